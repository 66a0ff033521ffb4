package mux

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wsmux/internal/transport"
)

// Multiplexer runs one multiplex session over a single Transport: Pump A
// moves tunnel frames to the sockets they address, Pump B moves socket
// bytes back onto the tunnel. Either pump failing ends the whole session
// (spec.md §4.5's "the multiplex session ends when either pump fails").
type Multiplexer struct {
	transport   transport.Transport
	sockets     SocketMap
	sessionIdle time.Duration
	sendTimeout time.Duration
	log         *logrus.Entry
}

// NewMultiplexer builds a Multiplexer over t and sockets. sessionIdle
// bounds each call to t.Receive in Pump A: a tunnel that goes silent for
// longer than that is presumed dead, distinct from any one socket's own
// idle timeout in its Timeouts. sendTimeout bounds each call to t.Send,
// wherever either pump originates one.
func NewMultiplexer(t transport.Transport, sockets SocketMap, sessionIdle, sendTimeout time.Duration, log *logrus.Entry) *Multiplexer {
	return &Multiplexer{transport: t, sockets: sockets, sessionIdle: sessionIdle, sendTimeout: sendTimeout, log: log}
}

// send writes frame to the transport under the configured send timeout.
func (m *Multiplexer) send(ctx context.Context, frame []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	return m.transport.Send(sendCtx, frame)
}

// Multiplex runs both pumps until one fails or ctx is cancelled, then tears
// down every socket and the transport before returning. A clean shutdown
// via ctx cancellation is reported as nil, not context.Canceled.
func (m *Multiplexer) Multiplex(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return m.pumpTunnelToSockets(groupCtx) })
	group.Go(func() error { return m.pumpSocketsToTunnel(groupCtx) })

	// A socket blocked in Receive only wakes on its own idle deadline or an
	// I/O error; neither fires just because groupCtx was cancelled. Closing
	// every socket as soon as the session ends unblocks those reads
	// immediately instead of leaving pumpSocketsToTunnel's tasks to drain
	// out over their configured idle timeouts.
	go func() {
		<-groupCtx.Done()
		m.sockets.Reset()
	}()

	err := group.Wait()
	m.sockets.Reset()
	if closeErr := m.transport.Close(); closeErr != nil {
		m.log.WithError(closeErr).Debug("transport close at session end")
	}

	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpTunnelToSockets is Pump A: read frames off the transport and deliver
// each payload to the socket its id names. A malformed frame, or a
// non-empty frame for an id the map does not hold, is session-fatal; a
// failed auto-connect or a failed send to one socket is contained: that id
// is evicted and a close frame for it is sent back to the peer.
func (m *Multiplexer) pumpTunnelToSockets(ctx context.Context) error {
	buf := make([]byte, MaxFrame)
	for {
		recvCtx, cancel := context.WithTimeout(ctx, m.sessionIdle)
		n, err := m.transport.Receive(recvCtx, buf)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return TransportClosed(err)
		}

		payload, id, err := Split(buf[:n])
		if err != nil {
			return err
		}

		sc, err := m.sockets.GetSocket(ctx, id)
		if err != nil {
			if Is(err, KindNoSuchSocket) && len(payload) == 0 {
				// A close frame for an id we (or the peer) already evicted:
				// the two sides raced to close the same socket. Benign.
				m.log.WithField("socket_id", id).Debug("close frame for already-removed socket")
				continue
			}
			if Is(err, KindConnectFailed) {
				// The target this id's auto-connect tried to reach refused
				// or timed out. That id never made it into the map, so
				// RemoveSocket is a no-op; the failure is contained to this
				// one connection, not the session (one client dialing a
				// dead target must not take down every other multiplexed
				// connection sharing this tunnel).
				m.log.WithError(err).WithField("socket_id", id).Debug("contained connect failure")
				m.sockets.RemoveSocket(id)

				closeFrame := Join(make([]byte, IDLen), 0, id)
				if sendErr := m.send(ctx, closeFrame); sendErr != nil {
					return TransportClosed(sendErr)
				}
				continue
			}
			return err
		}

		if err := sc.Send(ctx, payload); err != nil {
			m.log.WithError(err).WithField("socket_id", id).Debug("contained send failure")
			m.sockets.RemoveSocket(id)

			// The peer's socket is still alive from its point of view and may
			// keep addressing frames to this id; without telling it to stop,
			// the next non-empty frame for an id we no longer have would look
			// like a protocol violation instead of a closed socket. Originate
			// the close ourselves, symmetric to socketReceive's own path.
			closeFrame := Join(make([]byte, IDLen), 0, id)
			if sendErr := m.send(ctx, closeFrame); sendErr != nil {
				return TransportClosed(sendErr)
			}
		}
	}
}

// pumpSocketsToTunnel is Pump B: a supervisor that re-snapshots the socket
// map whenever it changes and spawns one socketReceive task per id it has
// not already spawned one for. It returns when the session context ends,
// or as soon as any spawned task reports a session-fatal error.
func (m *Multiplexer) pumpSocketsToTunnel(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	spawned := make(map[uint64]bool)

	for {
		snap, err := m.sockets.Snapshot()
		if err != nil {
			return err
		}

		for id, sc := range snap.Sockets() {
			mu.Lock()
			already := spawned[id]
			if !already {
				spawned[id] = true
			}
			mu.Unlock()
			if already {
				continue
			}

			id, sc := id, sc
			group.Go(func() error {
				defer func() {
					mu.Lock()
					delete(spawned, id)
					mu.Unlock()
				}()
				return m.socketReceive(groupCtx, id, sc)
			})
		}

		waitErr := snap.Lifetime().Wait(groupCtx)
		snap.Release()
		if waitErr != nil {
			break
		}
	}

	return group.Wait()
}

// socketReceive pumps bytes from one socket onto the tunnel until the
// socket ends or the session does. A receive error after the session
// context is done (session teardown closing the socket out from under us)
// just removes the socket. Every other receive error, whatever its cause (a
// genuine read failure or a prior Send's orderly-disconnect path on this
// same SocketContext), originates a close frame: there is no reliable way to
// tell those cases apart here, since Receive itself trips the cancellation
// this function would otherwise be checking. A duplicate close for an id the
// peer (or we) already removed is not a problem — pumpTunnelToSockets
// treats a close frame for an unknown id as benign, so the worst case is
// one harmless extra frame, never a false NoSuchSocket.
func (m *Multiplexer) socketReceive(ctx context.Context, id uint64, sc *SocketContext) error {
	buf := make([]byte, MaxFrame)
	segment := buf[:MaxFrame-IDLen]

	for {
		n, err := sc.Receive(ctx, segment)
		if err != nil {
			m.sockets.RemoveSocket(id)
			if ctx.Err() != nil {
				return nil
			}
			frame := Join(buf, 0, id)
			if sendErr := m.send(ctx, frame); sendErr != nil {
				return TransportClosed(sendErr)
			}
			return nil
		}

		frame := Join(buf, n, id)
		if sendErr := m.send(ctx, frame); sendErr != nil {
			m.sockets.RemoveSocket(id)
			return TransportClosed(sendErr)
		}
	}
}
