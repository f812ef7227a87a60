package kalloc

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/jobala/kcore/cpu"
	"github.com/jobala/kcore/lock"
	"github.com/jobala/kcore/util"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	PAGE_SIZE = 4096

	// junk written on allocation and on free, so that reads of uninitialized
	// or dangling memory see an obviously wrong value
	ALLOC_FILL byte = 5
	FREE_FILL  byte = 1
)

type Option func(*Allocator)

func WithLogger(logger *slog.Logger) Option {
	return func(k *Allocator) {
		k.logger = logger
	}
}

// WithPageSize sets the page size. It must be a power of two.
func WithPageSize(size int) Option {
	return func(k *Allocator) {
		k.pageSize = size
	}
}

func New(mem *Memory, ncpu int, opts ...Option) *Allocator {
	k := &Allocator{
		mem:       mem,
		pageSize:  PAGE_SIZE,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		kmem:      freelist{lock: lock.NewSpinlock("kmem")},
		percpu:    make([]freelist, ncpu),
		reclaimMu: lock.NewSpinlock("kmem_reclaim"),
		allocs:    xsync.NewCounter(),
		frees:     xsync.NewCounter(),
		reclaims:  xsync.NewCounter(),
		exhausted: xsync.NewCounter(),
	}

	for _, opt := range opts {
		opt(k)
	}

	if k.pageSize <= 0 || k.pageSize&(k.pageSize-1) != 0 {
		panic(fmt.Sprintf("kalloc: page size %d is not a power of two", k.pageSize))
	}
	if uint64(mem.Base())%uint64(k.pageSize) != 0 {
		panic(fmt.Sprintf("kalloc: memory base %#x is not page aligned", uint64(mem.Base())))
	}

	for i := range ncpu {
		k.percpu[i].lock = lock.NewSpinlock(fmt.Sprintf("kmem_%d", i))
	}
	k.owned = make([]atomic.Bool, len(mem.data)/k.pageSize)

	return k
}

// Init hands every whole page in [start, end) to the shared free list. It is
// meant to run once, at boot, before any other core touches the allocator.
func (k *Allocator) Init(start, end PA) {
	if k.end != 0 {
		util.Invariant("kinit: already initialized")
	}

	start = PGROUNDUP(start, k.pageSize)
	if start < k.mem.Base() || end > k.mem.End() || start >= end {
		util.Invariant("kinit: range [%#x, %#x) outside physical memory", uint64(start), uint64(end))
	}
	k.start, k.end = start, end

	n := 0
	for p := start; p+PA(k.pageSize) <= end; p += PA(k.pageSize) {
		fill(k.page(p), FREE_FILL)
		k.kmem.push(k.frame(p))
		n++
	}

	k.logger.Debug("kinit", "start", uint64(start), "end", uint64(end), "pages", n)
}

// Alloc returns one page for the caller running on c, or false when every
// free list, including the ones of other cores, is empty.
func (k *Allocator) Alloc(c *cpu.CPU) (PA, bool) {
	c.PushOff()
	defer c.PopOff()

	me := c.ID()
	own := &k.percpu[me]

	own.lock.Lock()
	f, ok := own.pop()
	own.lock.Unlock()

	if !ok {
		f, ok = k.popShared()
	}
	if !ok {
		k.reclaim(me)
		f, ok = k.popShared()
	}
	if !ok {
		k.exhausted.Inc()
		k.logger.Warn("kalloc: out of memory", "cpu", me)
		return 0, false
	}

	if !k.owned[f].CompareAndSwap(false, true) {
		util.Invariant("kalloc: page %#x handed out twice", uint64(k.addr(f)))
	}
	k.allocs.Inc()

	pa := k.addr(f)
	fill(k.page(pa), ALLOC_FILL)
	return pa, true
}

// Free returns pa, which must have come from Alloc, to c's free list.
func (k *Allocator) Free(c *cpu.CPU, pa PA) {
	c.PushOff()
	defer c.PopOff()

	if uint64(pa)%uint64(k.pageSize) != 0 || pa < k.start || pa >= k.end {
		util.Invariant("kfree: bad address %#x", uint64(pa))
	}

	f := k.frame(pa)
	if !k.owned[f].CompareAndSwap(true, false) {
		util.Invariant("kfree: page %#x is not allocated", uint64(pa))
	}
	k.frees.Inc()

	fill(k.page(pa), FREE_FILL)

	own := &k.percpu[c.ID()]
	own.lock.Lock()
	own.push(f)
	own.lock.Unlock()
}

// Page returns the contents of the page at pa.
func (k *Allocator) Page(pa PA) []byte {
	if uint64(pa)%uint64(k.pageSize) != 0 || pa < k.start || pa >= k.end {
		util.Invariant("kalloc: bad page address %#x", uint64(pa))
	}

	return k.page(pa)
}

func (k *Allocator) PageSize() int {
	return k.pageSize
}

func (k *Allocator) popShared() (int, bool) {
	k.kmem.lock.Lock()
	defer k.kmem.lock.Unlock()

	return k.kmem.pop()
}

// reclaim moves the free lists of every core except caller onto the shared
// list. Lock order is reclaimMu, then the per-core locks in ascending index,
// then the shared lock. The caller holds none of them on entry.
func (k *Allocator) reclaim(caller int) {
	k.reclaimMu.Lock()
	defer k.reclaimMu.Unlock()

	moved := 0
	for i := range k.percpu {
		if i == caller {
			continue
		}

		l := &k.percpu[i]
		l.lock.Lock()
		if len(l.frames) > 0 {
			k.kmem.lock.Lock()
			k.kmem.frames = append(k.kmem.frames, l.frames...)
			k.kmem.lock.Unlock()

			moved += len(l.frames)
			l.frames = l.frames[:0]
		}
		l.lock.Unlock()
	}

	k.reclaims.Inc()
	k.logger.Debug("kalloc: reclaimed free pages", "cpu", caller, "pages", moved)
}

func (k *Allocator) frame(pa PA) int {
	return int(pa-k.mem.Base()) / k.pageSize
}

func (k *Allocator) addr(f int) PA {
	return k.mem.Base() + PA(f*k.pageSize)
}

func (k *Allocator) page(pa PA) []byte {
	return k.mem.slice(pa, k.pageSize)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func (l *freelist) push(f int) {
	l.frames = append(l.frames, f)
}

func (l *freelist) pop() (int, bool) {
	n := len(l.frames)
	if n == 0 {
		return -1, false
	}

	f := l.frames[n-1]
	l.frames = l.frames[:n-1]
	return f, true
}

// freelist is a LIFO stack of page frame indices.
type freelist struct {
	lock   *lock.Spinlock
	frames []int
}

type Allocator struct {
	mem      *Memory
	pageSize int
	start    PA
	end      PA

	kmem      freelist
	percpu    []freelist
	reclaimMu *lock.Spinlock

	// owned[f] is set while frame f is held by a caller
	owned []atomic.Bool

	logger    *slog.Logger
	allocs    *xsync.Counter
	frees     *xsync.Counter
	reclaims  *xsync.Counter
	exhausted *xsync.Counter
}
