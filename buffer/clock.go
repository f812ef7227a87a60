package buffer

import "sync/atomic"

// Clock stamps buffers when their last reference is dropped.
type Clock interface {
	Now() uint64
}

// logicalClock ticks once per reading, so every stamp is distinct.
type logicalClock struct {
	ticks atomic.Uint64
}

func (c *logicalClock) Now() uint64 {
	return c.ticks.Add(1)
}
