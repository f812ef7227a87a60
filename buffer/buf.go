package buffer

import (
	"github.com/jobala/kcore/lock"
	"github.com/jobala/kcore/util"
)

func newBuf(id, blockSize int) *buf {
	return &buf{
		id:   id,
		lock: lock.NewSleeplock("buffer"),
		data: make([]byte, blockSize),
	}
}

// Data returns the cached block. It may only be used until Release.
func (g *Buf) Data() []byte {
	return g.slot().data
}

func (g *Buf) Dev() uint32 {
	return g.slot().dev
}

func (g *Buf) BlockNo() uint32 {
	return g.slot().blockno
}

func (g *Buf) Valid() bool {
	return g.slot().valid
}

func (g *Buf) slot() *buf {
	if g == nil || g.b == nil {
		util.Invariant("buffer used after release")
	}
	return g.b
}

// holding reports whether g still owns its buffer's sleep lock.
func (g *Buf) holding() bool {
	return g != nil && g.b != nil && g.b.lock.Holding(g.ticket)
}

// Buf is a locked buffer handed out by Cache.Read. It stays valid until it is
// passed to Cache.Release.
type Buf struct {
	b      *buf
	ticket uint64
}

// buf is one slot of the pool. dev, blockno, refcnt, pins, timestamp and
// bucket are guarded by the bucket lock (all bucket locks to change
// identity); valid and data are guarded by lock. pins counts the references
// taken by Pin and is always <= refcnt.
type buf struct {
	id        int
	dev       uint32
	blockno   uint32
	valid     bool
	refcnt    int
	pins      int
	timestamp uint64
	bucket    int
	lock      *lock.Sleeplock
	data      []byte
}
