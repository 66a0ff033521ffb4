package mux

import (
	"context"
	"net"
	"testing"

	"gotest.tools/assert"
)

func newTestSocket(t *testing.T, id uint64) (*SocketContext, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	sc := NewConnectedSocketContext(id, client, context.Background(), testDurations(), discardLog())
	t.Cleanup(func() { _ = sc.Close(); _ = server.Close() })
	return sc, server
}

func TestListenerSocketMapAddGetRemove(t *testing.T) {
	m := NewListenerSocketMap(discardLog())
	sc, _ := newTestSocket(t, 1)

	assert.NilError(t, m.AddSocket(1, sc))
	assert.Assert(t, Is(m.AddSocket(1, sc), KindDuplicateSocket))

	got, err := m.GetSocket(context.Background(), 1)
	assert.NilError(t, err)
	assert.Assert(t, got == sc)

	_, err = m.GetSocket(context.Background(), 2)
	assert.Assert(t, Is(err, KindNoSuchSocket))

	m.RemoveSocket(1)
	_, err = m.GetSocket(context.Background(), 1)
	assert.Assert(t, Is(err, KindNoSuchSocket))
}

func TestSnapshotExclusivity(t *testing.T) {
	m := NewListenerSocketMap(discardLog())
	sc, _ := newTestSocket(t, 1)
	assert.NilError(t, m.AddSocket(1, sc))

	snap, err := m.Snapshot()
	assert.NilError(t, err)

	_, err = m.Snapshot()
	assert.Assert(t, Is(err, KindConcurrentSnapshot))

	snap.Release()

	snap2, err := m.Snapshot()
	assert.NilError(t, err)
	snap2.Release()
}

func TestSnapshotInvalidatedByMutation(t *testing.T) {
	m := NewListenerSocketMap(discardLog())
	sc, _ := newTestSocket(t, 1)
	assert.NilError(t, m.AddSocket(1, sc))

	snap, err := m.Snapshot()
	assert.NilError(t, err)
	assert.Assert(t, !snap.Lifetime().Terminated())

	sc2, _ := newTestSocket(t, 2)
	assert.NilError(t, m.AddSocket(2, sc2))

	assert.Assert(t, snap.Lifetime().Terminated())

	// A mutation already clears the outstanding slot, so a fresh snapshot
	// is available without needing Release first.
	snap2, err := m.Snapshot()
	assert.NilError(t, err)
	snap2.Release()
}

func TestAutoConnectSocketMapDialsOnMiss(t *testing.T) {
	inner := NewListenerSocketMap(discardLog())
	client, server := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })

	dial := func(ctx context.Context, target string) (net.Conn, error) {
		return client, nil
	}

	m := NewAutoConnectSocketMap(inner, "ignored:0", dial, context.Background(), testDurations(), discardLog())

	sc, err := m.GetSocket(context.Background(), 7)
	assert.NilError(t, err)
	assert.Assert(t, sc != nil)

	again, err := m.GetSocket(context.Background(), 7)
	assert.NilError(t, err)
	assert.Assert(t, again == sc)
}
