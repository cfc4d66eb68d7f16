package overlay

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Barrier joins n independently completing tasks into one callback.
//
// The callback runs exactly once, on the goroutine delivering the last Done.
type Barrier struct {
	pending atomic.Int64
	once    sync.Once
	fn      func()
}

// NewBarrier returns a barrier waiting for n tasks. When n is zero, fn runs
// immediately, before NewBarrier returns.
func NewBarrier(n int, fn func()) *Barrier {
	if n < 0 {
		panic(fmt.Sprintf("overlay: negative barrier size %d", n))
	}
	if fn == nil {
		fn = func() {}
	}
	b := &Barrier{fn: fn}
	b.pending.Store(int64(n))
	if n == 0 {
		b.once.Do(b.fn)
	}
	return b
}

// Done records that one task reached a terminal state.
func (b *Barrier) Done() {
	switch left := b.pending.Add(-1); {
	case left == 0:
		b.once.Do(b.fn)
	case left < 0:
		panic("overlay: Barrier.Done called more times than tasks")
	}
}

// Pending returns the number of tasks that have not called Done.
func (b *Barrier) Pending() int {
	return int(b.pending.Load())
}
