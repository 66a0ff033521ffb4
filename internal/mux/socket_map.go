package mux

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// SocketMap is the interface the Multiplexer depends on: resolve an id to a
// SocketContext, remove one, and enumerate the live set via a Snapshot.
// Both the Listener and Auto-connect variants implement it.
type SocketMap interface {
	GetSocket(ctx context.Context, id uint64) (*SocketContext, error)
	RemoveSocket(id uint64)
	Snapshot() (*SocketSnapshot, error)
	Detach(snap *SocketSnapshot)
	Reset()
}

// SocketSnapshot is an immutable point-in-time view of a SocketMap's
// entries, paired with a Lifetime that terminates as soon as the map
// mutates again. Release (idempotent) detaches it from the owning map.
type SocketSnapshot struct {
	sockets  map[uint64]*SocketContext
	lifetime *Lifetime
	owner    SocketMap

	mu       sync.Mutex
	released bool
}

// Sockets returns the immutable id->SocketContext view. The map itself must
// not be mutated by callers.
func (s *SocketSnapshot) Sockets() map[uint64]*SocketContext { return s.sockets }

// Lifetime exposes the wait-while-alive signal: terminated once the owning
// map has mutated since this snapshot was taken.
func (s *SocketSnapshot) Lifetime() *Lifetime { return s.lifetime }

// Release detaches the snapshot from its owning map's outstanding-snapshot
// slot, if it is still the current one. Safe to call more than once.
func (s *SocketSnapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.owner.Detach(s)
}

// ListenerSocketMap is the explicit-connect variant: entries are added by
// an accept loop and removed on error or close. GetSocket never connects on
// demand; a miss is NoSuchSocket.
type ListenerSocketMap struct {
	mu       sync.Mutex
	sockets  map[uint64]*SocketContext
	snapshot *outstandingSnapshot
	log      *logrus.Entry
}

type outstandingSnapshot struct {
	lifetime *Lifetime
}

// NewListenerSocketMap returns an empty Listener SocketMap.
func NewListenerSocketMap(log *logrus.Entry) *ListenerSocketMap {
	return &ListenerSocketMap{sockets: make(map[uint64]*SocketContext), log: log}
}

// AddSocket inserts sc under id. Fails with ErrDuplicateSocket if id is
// already present.
func (m *ListenerSocketMap) AddSocket(id uint64, sc *SocketContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sockets[id]; exists {
		return ErrDuplicateSocket
	}
	m.sockets[id] = sc
	m.invalidateLocked()
	return nil
}

// GetSocket implements SocketMap: a miss is always NoSuchSocket on this variant.
func (m *ListenerSocketMap) GetSocket(_ context.Context, id uint64) (*SocketContext, error) {
	sc, err := m.lookup(id, true)
	return sc, err
}

// lookup is shared with the auto-connect wrapper, which probes with
// required=false before deciding whether to dial a fresh socket.
func (m *ListenerSocketMap) lookup(id uint64, required bool) (*SocketContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, exists := m.sockets[id]
	if !exists && required {
		return nil, ErrNoSuchSocket
	}
	return sc, nil
}

// RemoveSocket deletes id from the map and disposes its SocketContext.
// A no-op if id is absent.
func (m *ListenerSocketMap) RemoveSocket(id uint64) {
	m.mu.Lock()
	sc, exists := m.sockets[id]
	if exists {
		delete(m.sockets, id)
		m.invalidateLocked()
	}
	m.mu.Unlock()

	if exists {
		if err := sc.Close(); err != nil {
			m.log.WithError(err).WithField("socket_id", id).Debug("close on remove")
		}
	}
}

// Reset disposes every context and clears the map.
func (m *ListenerSocketMap) Reset() {
	m.mu.Lock()
	sockets := m.sockets
	m.sockets = make(map[uint64]*SocketContext)
	m.invalidateLocked()
	m.mu.Unlock()

	for _, sc := range sockets {
		_ = sc.Close()
	}
}

func (m *ListenerSocketMap) invalidateLocked() {
	if m.snapshot != nil {
		m.snapshot.lifetime.Terminate()
		m.snapshot = nil
	}
}

// Snapshot fails with ErrConcurrentSnapshot if one is already outstanding.
func (m *ListenerSocketMap) Snapshot() (*SocketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot != nil {
		return nil, ErrConcurrentSnapshot
	}
	view := make(map[uint64]*SocketContext, len(m.sockets))
	for id, sc := range m.sockets {
		view[id] = sc
	}
	lifetime := NewLifetime()
	m.snapshot = &outstandingSnapshot{lifetime: lifetime}
	return &SocketSnapshot{sockets: view, lifetime: lifetime, owner: m}, nil
}

// Detach clears the outstanding-snapshot slot if snap is still the
// recorded one (it may already have been cleared by an intervening mutation).
func (m *ListenerSocketMap) Detach(snap *SocketSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot != nil && m.snapshot.lifetime == snap.lifetime {
		m.snapshot = nil
	}
}

// AutoConnectSocketMap is the server-side variant: wraps a Listener
// SocketMap and fills misses by dialing target and inserting the result.
//
// The lookup-then-insert pair is not atomic under the inner map's single
// mutex, so a connect race is resolved by discard-on-race: the loser's
// freshly dialed socket is closed and the lookup retried, per spec.md §9's
// reference policy.
type AutoConnectSocketMap struct {
	inner  *ListenerSocketMap
	target string
	dial   Dialer

	parent    context.Context
	durations Durations
	log       *logrus.Entry
}

// NewAutoConnectSocketMap wraps inner, dialing target for any id missing on
// first reference. parent/durations seed each freshly dialed SocketContext's
// own Timeouts, so one socket's failure cannot cancel another's.
func NewAutoConnectSocketMap(inner *ListenerSocketMap, target string, dial Dialer, parent context.Context, durations Durations, log *logrus.Entry) *AutoConnectSocketMap {
	return &AutoConnectSocketMap{inner: inner, target: target, dial: dial, parent: parent, durations: durations, log: log}
}

// GetSocket resolves id, dialing and inserting a fresh SocketContext on a
// miss. The caller's ctx bounds the connect attempt (spec.md §9's open
// question: the auto-connect path does honor it).
func (m *AutoConnectSocketMap) GetSocket(ctx context.Context, id uint64) (*SocketContext, error) {
	for {
		sc, err := m.inner.lookup(id, false)
		if err != nil {
			return nil, err
		}
		if sc != nil {
			return sc, nil
		}

		candidate := NewPendingSocketContext(id, m.target, m.dial, m.parent, m.durations, m.log)
		if err := candidate.ensureConnected(ctx); err != nil {
			return nil, err
		}
		if err := m.inner.AddSocket(id, candidate); err != nil {
			_ = candidate.Close()
			if Is(err, KindDuplicateSocket) {
				continue // lost the race to another GetSocket(id); retry the lookup
			}
			return nil, err
		}
		return candidate, nil
	}
}

func (m *AutoConnectSocketMap) RemoveSocket(id uint64)              { m.inner.RemoveSocket(id) }
func (m *AutoConnectSocketMap) Snapshot() (*SocketSnapshot, error) { return m.inner.Snapshot() }
func (m *AutoConnectSocketMap) Detach(snap *SocketSnapshot)         { m.inner.Detach(snap) }
func (m *AutoConnectSocketMap) Reset()                              { m.inner.Reset() }
