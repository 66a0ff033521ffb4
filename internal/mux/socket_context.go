package mux

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Dialer opens an outbound TCP connection to target. Swappable in tests.
type Dialer func(ctx context.Context, target string) (net.Conn, error)

// SocketContext wraps one TCP socket with lazy connect, per-operation
// timeouts, and cancellation, per spec.md §4.3.
//
// Invariant: connected == false implies target is set and conn is nil;
// connected == true implies conn is set and Send/Receive skip the connect
// path. mu guards only the connect transition — once connected, a Send and
// a Receive may run concurrently against conn.
type SocketContext struct {
	ID uint64

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	target    string
	dial      Dialer

	timeouts *Timeouts
	log      *logrus.Entry
}

func newSocketContext(id uint64, parent context.Context, durations Durations, log *logrus.Entry) *SocketContext {
	return &SocketContext{
		ID:       id,
		timeouts: NewTimeouts(parent, durations),
		log:      log.WithField("socket_id", id),
	}
}

// NewConnectedSocketContext wraps an already-connected socket (the listener
// side's shape: conn comes from Accept).
func NewConnectedSocketContext(id uint64, conn net.Conn, parent context.Context, durations Durations, log *logrus.Entry) *SocketContext {
	sc := newSocketContext(id, parent, durations, log)
	sc.conn = conn
	sc.connected = true
	return sc
}

// NewPendingSocketContext wraps a not-yet-connected socket that will dial
// target on first Send or Receive (the auto-connect side's shape).
func NewPendingSocketContext(id uint64, target string, dial Dialer, parent context.Context, durations Durations, log *logrus.Entry) *SocketContext {
	sc := newSocketContext(id, parent, durations, log)
	sc.target = target
	sc.dial = dial
	return sc
}

// Cancelled reports whether this context's Timeouts root has already
// tripped, either by an earlier Send/Receive error or by session
// cancellation.
func (s *SocketContext) Cancelled() bool { return s.timeouts.Cancelled() }

func (s *SocketContext) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	h := s.timeouts.connectHandle(ctx)
	defer h.Release()

	conn, err := s.dial(h.Context(), s.target)
	if err != nil {
		s.log.WithError(err).Warn("connect failed")
		s.timeouts.Cancel()
		return ConnectFailed(errors.Wrapf(err, "connect to %s", s.target))
	}
	s.conn = conn
	s.connected = true
	return nil
}

// Send writes segment to the socket, connecting first if needed. A
// zero-length segment issues an orderly disconnect with no linger (Close
// returns at once; data already written is still delivered before the FIN)
// and returns nil; spec.md §4.3 treats that as success, not an error.
func (s *SocketContext) Send(ctx context.Context, segment []byte) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	if len(segment) == 0 {
		err := s.conn.Close()
		s.timeouts.Cancel()
		if err != nil {
			s.log.WithError(err).Debug("close on orderly disconnect")
		}
		return nil
	}

	h := s.timeouts.sendHandle(ctx)
	defer h.Release()
	if dl, ok := h.Context().Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}

	if _, err := s.conn.Write(segment); err != nil {
		s.log.WithError(err).Debug("send failed")
		s.timeouts.Cancel()
		return SendTimeout(err)
	}
	return nil
}

// Receive reads up to len(buf) bytes, returning the populated prefix
// length. Bounded by the idle timeout for the full call, per spec.md §4.3:
// idleness is detected by elapsed wait, not by an activity counter.
func (s *SocketContext) Receive(ctx context.Context, buf []byte) (int, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return 0, err
	}

	h := s.timeouts.idleHandle(ctx)
	defer h.Release()
	if dl, ok := h.Context().Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	}

	n, err := s.conn.Read(buf)
	if err != nil {
		s.log.WithError(err).Debug("receive ended")
		s.timeouts.Cancel()
		return n, ReceiveTimeout(err)
	}
	return n, nil
}

// Linger sleeps the configured linger delay, or returns early on cancellation.
func (s *SocketContext) Linger(ctx context.Context) { s.timeouts.Linger(ctx) }

// Close trips this context's Timeouts (failing any outstanding or future
// operation) and closes the underlying socket, if one was ever connected.
// Safe to call more than once.
func (s *SocketContext) Close() error {
	s.timeouts.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
