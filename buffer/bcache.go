package buffer

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jobala/kcore/lock"
	"github.com/jobala/kcore/util"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	NBUF       = 30
	NBUCKET    = 13
	BLOCK_SIZE = 1024
)

// Device moves exactly one block between data and (dev, blockno).
type Device interface {
	Transfer(dev, blockno uint32, data []byte, write bool) error
}

type Option func(*Cache)

func WithBuffers(n int) Option {
	return func(c *Cache) {
		c.nbuf = n
	}
}

func WithBuckets(n int) Option {
	return func(c *Cache) {
		c.nbucket = n
	}
}

func WithBlockSize(size int) Option {
	return func(c *Cache) {
		c.blockSize = size
	}
}

func WithClock(clock Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func NewCache(dev Device, opts ...Option) *Cache {
	c := &Cache{
		lock:      lock.NewSpinlock("bcache"),
		dev:       dev,
		nbuf:      NBUF,
		nbucket:   NBUCKET,
		blockSize: BLOCK_SIZE,
		clock:     &logicalClock{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		hits:      xsync.NewCounter(),
		misses:    xsync.NewCounter(),
		evictions: xsync.NewCounter(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.nbuf < 1 || c.nbucket < 1 || c.blockSize < 1 {
		panic(fmt.Sprintf("binit: bad geometry nbuf=%d nbucket=%d blocksize=%d", c.nbuf, c.nbucket, c.blockSize))
	}

	c.buckets = make([]bucket, c.nbucket)
	for i := range c.buckets {
		c.buckets[i].lock = lock.NewSpinlock(fmt.Sprintf("bcache_bucket_%d", i))
	}

	// every slot starts out in bucket 0, which is where (0, 0) hashes
	c.bufs = make([]*buf, c.nbuf)
	for i := range c.bufs {
		c.bufs[i] = newBuf(i, c.blockSize)
		c.buckets[0].slots = append(c.buckets[0].slots, i)
	}

	return c
}

// Read returns a locked buffer holding the contents of blockno on dev.
func (c *Cache) Read(dev, blockno uint32) (*Buf, error) {
	g := c.get(dev, blockno)

	if !g.b.valid {
		if err := c.dev.Transfer(dev, blockno, g.b.data, false); err != nil {
			c.Release(g)
			return nil, fmt.Errorf("bread: dev %d block %d: %w", dev, blockno, err)
		}
		g.b.valid = true
	}

	return g, nil
}

// Write persists the buffer's contents. The caller must hold g.
func (c *Cache) Write(g *Buf) error {
	if !g.holding() {
		util.Invariant("bwrite: buffer not held")
	}

	if err := c.dev.Transfer(g.b.dev, g.b.blockno, g.b.data, true); err != nil {
		return fmt.Errorf("bwrite: dev %d block %d: %w", g.b.dev, g.b.blockno, err)
	}

	return nil
}

// Release unlocks g and drops its reference. g must not be used afterwards.
func (c *Cache) Release(g *Buf) {
	if !g.holding() {
		util.Invariant("brelse: buffer not held")
	}

	b := g.b
	b.lock.Release(g.ticket)
	g.b = nil

	bk := &c.buckets[b.bucket]
	bk.lock.Lock()
	b.refcnt--
	if b.refcnt == 0 {
		b.timestamp = c.clock.Now()
	}
	bk.lock.Unlock()
}

// Pin takes an extra reference on g's buffer so it stays cached after g is
// released, until a matching Unpin.
func (c *Cache) Pin(g *Buf) {
	b := g.slot()

	bk := &c.buckets[b.bucket]
	bk.lock.Lock()
	c.lock.Lock()
	b.pins++
	b.refcnt++
	c.lock.Unlock()
	bk.lock.Unlock()
}

// Unpin drops a reference taken by Pin. Unpinning more often than pinning
// would let a held buffer be recycled, so it is fatal.
func (c *Cache) Unpin(g *Buf) {
	b := g.slot()

	bk := &c.buckets[b.bucket]
	bk.lock.Lock()
	c.lock.Lock()
	if b.pins < 1 {
		c.lock.Unlock()
		bk.lock.Unlock()
		util.Invariant("bunpin: dev %d block %d not pinned", b.dev, b.blockno)
	}
	b.pins--
	b.refcnt--
	if b.refcnt == 0 {
		b.timestamp = c.clock.Now()
	}
	c.lock.Unlock()
	bk.lock.Unlock()
}

// get looks up blockno on dev, recycling the longest idle buffer on a miss.
// In either case the buffer is returned locked.
func (c *Cache) get(dev, blockno uint32) *Buf {
	h := c.hash(dev, blockno)
	bk := &c.buckets[h]

	bk.lock.Lock()
	if b := c.lookup(bk, dev, blockno); b != nil {
		b.refcnt++
		bk.lock.Unlock()
		c.hits.Inc()
		return acquire(b)
	}
	bk.lock.Unlock()

	// not cached: take every bucket in ascending order, then the pool lock
	for i := range c.buckets {
		c.buckets[i].lock.Lock()
	}
	c.lock.Lock()

	// another caller may have cached the block while no lock was held
	if b := c.lookup(bk, dev, blockno); b != nil {
		b.refcnt++
		c.unlockAll()
		c.hits.Inc()
		return acquire(b)
	}

	b, ok := victim(c.bufs)
	if !ok {
		c.unlockAll()
		util.Exhausted("bget: no buffers")
	}

	if b.valid {
		c.evictions.Inc()
		c.logger.Debug("bget: evict", "slot", b.id, "dev", b.dev, "block", b.blockno, "idle_since", b.timestamp)
	}

	old := &c.buckets[b.bucket]
	old.remove(b.id)

	b.dev = dev
	b.blockno = blockno
	b.valid = false
	b.refcnt = 1
	b.bucket = h
	bk.slots = append(bk.slots, b.id)

	c.unlockAll()
	c.misses.Inc()

	return acquire(b)
}

func (c *Cache) lookup(bk *bucket, dev, blockno uint32) *buf {
	for _, id := range bk.slots {
		b := c.bufs[id]
		if b.dev == dev && b.blockno == blockno {
			return b
		}
	}

	return nil
}

func (c *Cache) unlockAll() {
	c.lock.Unlock()
	for i := len(c.buckets) - 1; i >= 0; i-- {
		c.buckets[i].lock.Unlock()
	}
}

func (c *Cache) hash(dev, blockno uint32) int {
	return int(((uint64(dev) << 32) | uint64(blockno)) % uint64(len(c.buckets)))
}

// acquire blocks on b's sleep lock. No spinlock may be held.
func acquire(b *buf) *Buf {
	ticket := b.lock.Acquire()
	return &Buf{b: b, ticket: ticket}
}

func (bk *bucket) remove(id int) {
	for i, s := range bk.slots {
		if s == id {
			bk.slots = append(bk.slots[:i], bk.slots[i+1:]...)
			return
		}
	}
}

type bucket struct {
	lock  *lock.Spinlock
	slots []int
}

type Cache struct {
	// lock orders identity changes against Pin and Unpin. It is always
	// taken after any bucket lock.
	lock    *lock.Spinlock
	bufs    []*buf
	buckets []bucket

	dev       Device
	clock     Clock
	nbuf      int
	nbucket   int
	blockSize int

	logger    *slog.Logger
	hits      *xsync.Counter
	misses    *xsync.Counter
	evictions *xsync.Counter
}
