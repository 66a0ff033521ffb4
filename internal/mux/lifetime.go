package mux

import (
	"context"
	"sync"
)

// Lifetime is a one-shot broadcast signal: created alive, it transitions
// exactly once to terminated, and any number of observers may await that
// transition concurrently.
type Lifetime struct {
	once sync.Once
	done chan struct{}
}

// NewLifetime returns a Lifetime in the alive state.
func NewLifetime() *Lifetime {
	return &Lifetime{done: make(chan struct{})}
}

// Terminate transitions the Lifetime to terminated. Idempotent.
func (l *Lifetime) Terminate() {
	l.once.Do(func() { close(l.done) })
}

// Terminated reports whether Terminate has already been called.
func (l *Lifetime) Terminated() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the Lifetime terminates or ctx is cancelled, whichever
// comes first. It returns ctx.Err() only in the latter case.
func (l *Lifetime) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
