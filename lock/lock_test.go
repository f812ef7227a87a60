package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinlock(t *testing.T) {
	t.Run("serializes concurrent increments", func(t *testing.T) {
		lk := NewSpinlock("counter")
		count := 0

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 1000 {
					lk.Lock()
					count++
					lk.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 8000, count)
		assert.False(t, lk.Locked())
	})

	t.Run("unlocking a free lock panics", func(t *testing.T) {
		lk := NewSpinlock("kmem")
		assert.PanicsWithValue(t, "release: kmem not held", func() {
			lk.Unlock()
		})
	})
}

func TestSleeplock(t *testing.T) {
	t.Run("holder is identified by its ticket", func(t *testing.T) {
		lk := NewSleeplock("buffer")

		ticket := lk.Acquire()
		assert.True(t, lk.Holding(ticket))
		assert.False(t, lk.Holding(ticket+1))

		lk.Release(ticket)
		assert.False(t, lk.Holding(ticket))
		assert.False(t, lk.Locked())
	})

	t.Run("releasing with a stale ticket panics", func(t *testing.T) {
		lk := NewSleeplock("buffer")

		first := lk.Acquire()
		lk.Release(first)
		second := lk.Acquire()

		assert.Panics(t, func() {
			lk.Release(first)
		})
		lk.Release(second)
	})

	t.Run("second acquirer blocks until release", func(t *testing.T) {
		lk := NewSleeplock("buffer")
		ticket := lk.Acquire()

		var acquired atomic.Bool
		done := make(chan struct{})
		go func() {
			defer close(done)
			tk := lk.Acquire()
			acquired.Store(true)
			lk.Release(tk)
		}()

		time.Sleep(20 * time.Millisecond)
		assert.False(t, acquired.Load())

		lk.Release(ticket)
		select {
		case <-done:
		case <-time.After(time.Second):
			require.Fail(t, "waiter was not woken by release")
		}
		assert.True(t, acquired.Load())
	})

	t.Run("at most one holder at a time", func(t *testing.T) {
		lk := NewSleeplock("buffer")
		var holders, maxHolders atomic.Int32

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					tk := lk.Acquire()
					n := holders.Add(1)
					if n > maxHolders.Load() {
						maxHolders.Store(n)
					}
					holders.Add(-1)
					lk.Release(tk)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxHolders.Load())
	})
}
