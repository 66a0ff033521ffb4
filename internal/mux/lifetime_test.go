package mux

import (
	"context"
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestLifetimeWaitUntilTerminate(t *testing.T) {
	l := NewLifetime()
	assert.Assert(t, !l.Terminated())

	done := make(chan error, 1)
	go func() { done <- l.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned before Terminate")
	case <-time.After(20 * time.Millisecond):
	}

	l.Terminate()
	assert.NilError(t, <-done)
	assert.Assert(t, l.Terminated())
}

func TestLifetimeTerminateIdempotent(t *testing.T) {
	l := NewLifetime()
	l.Terminate()
	l.Terminate()
	assert.Assert(t, l.Terminated())
}

func TestLifetimeWaitCancelledByContext(t *testing.T) {
	l := NewLifetime()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx)
	assert.Equal(t, err, context.Canceled)
	assert.Assert(t, !l.Terminated())
}
