package lock

import "sync"

func NewSleeplock(name string) *Sleeplock {
	lk := &Sleeplock{name: name}
	lk.cond = sync.NewCond(&lk.lk)
	return lk
}

// Acquire blocks until the lock is free and returns the ticket that identifies
// this holder to Holding and Release.
func (lk *Sleeplock) Acquire() uint64 {
	lk.lk.Lock()
	defer lk.lk.Unlock()

	for lk.locked {
		lk.cond.Wait()
	}

	lk.next++
	lk.locked = true
	lk.holder = lk.next
	return lk.holder
}

func (lk *Sleeplock) Release(ticket uint64) {
	lk.lk.Lock()
	defer lk.lk.Unlock()

	if !lk.locked || lk.holder != ticket {
		panic("releasesleep: " + lk.name + " not held by caller")
	}

	lk.locked = false
	lk.holder = 0
	lk.cond.Broadcast()
}

func (lk *Sleeplock) Holding(ticket uint64) bool {
	lk.lk.Lock()
	defer lk.lk.Unlock()

	return lk.locked && lk.holder == ticket
}

func (lk *Sleeplock) Locked() bool {
	lk.lk.Lock()
	defer lk.lk.Unlock()

	return lk.locked
}

// Sleeplock is a blocking lock. Its holder may sleep, or do I/O, while it is
// held; waiters are parked rather than spinning.
type Sleeplock struct {
	lk     Spinlock
	cond   *sync.Cond
	locked bool
	holder uint64
	next   uint64
	name   string
}
