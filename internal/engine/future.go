package engine

import (
	"context"
	"sync"
)

// Future resolves once. A fresh Future is created for every unit generation.
type Future struct {
	gen  uint64
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture(gen uint64) *Future {
	return &Future{gen: gen, done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Generation is the unit generation this future belongs to.
func (f *Future) Generation() uint64 { return f.gen }

func (f *Future) Done() <-chan struct{} { return f.done }

// Resolved reports whether the future has settled.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the unit is ready or ctx ends. A nil error means ready.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
