package converter

import (
	"context"
	"sync"
)

// Pool bounds the number of concurrent office conversions. LibreOffice
// instances are memory-heavy, so the pool is shared across every worker of a
// run rather than sized per unit.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with the given number of slots. Sizes below one are
// clamped to one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or the context ends. The returned
// release function is idempotent, so deferring it alongside an explicit call
// on the happy path cannot leak or double-free a slot.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-p.slots })
	}, nil
}

// Size reports the pool capacity.
func (p *Pool) Size() int {
	return cap(p.slots)
}
