package engine

import (
	"sync"
	"sync/atomic"
)

// Guard is the in-flight flag for one market. It is owned by that market's
// scheduler and handed to nobody else.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire sets the flag if it is clear. The returned release clears it and
// may be called more than once.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.busy.Store(false) })
	}, true
}

// Busy reports whether a cycle is in flight.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
