package lock

import (
	"runtime"
	"sync/atomic"
)

func NewSpinlock(name string) *Spinlock {
	return &Spinlock{name: name}
}

// Lock busy-waits until the lock is free. Critical sections must be short and
// must not block.
func (lk *Spinlock) Lock() {
	for !lk.locked.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (lk *Spinlock) Unlock() {
	if lk.locked.Swap(0) != 1 {
		panic("release: " + lk.name + " not held")
	}
}

func (lk *Spinlock) Locked() bool {
	return lk.locked.Load() == 1
}

func (lk *Spinlock) Name() string {
	return lk.name
}

type Spinlock struct {
	locked atomic.Uint32
	name   string
}
