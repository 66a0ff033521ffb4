package mux

import "github.com/pkg/errors"

// Kind is one of the error taxonomy entries a multiplex session can raise.
// The policy for each kind (contained per-socket vs session-fatal) lives
// with the caller that interprets it, not on the error itself.
type Kind string

const (
	KindConnectFailed      Kind = "connect_failed"
	KindSendTimeout        Kind = "send_timeout"
	KindReceiveTimeout     Kind = "receive_timeout"
	KindMalformedFrame     Kind = "malformed_frame"
	KindNoSuchSocket       Kind = "no_such_socket"
	KindDuplicateSocket    Kind = "duplicate_socket"
	KindConcurrentSnapshot Kind = "concurrent_snapshot"
	KindTransportClosed    Kind = "transport_closed"
	KindCancelled          Kind = "cancelled"
)

// Error carries a taxonomy Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	// ErrMalformedFrame is returned by Split when a message is shorter
	// than the id suffix.
	ErrMalformedFrame = wrap(KindMalformedFrame, errors.New("message shorter than id suffix"))

	// ErrNoSuchSocket is returned by a Listener SocketMap's GetSocket
	// when required is true and the id is absent.
	ErrNoSuchSocket = wrap(KindNoSuchSocket, errors.New("socket id not found"))

	// ErrDuplicateSocket is returned by AddSocket when the id already exists.
	ErrDuplicateSocket = wrap(KindDuplicateSocket, errors.New("socket id already present"))

	// ErrConcurrentSnapshot is returned by Snapshot when one is already outstanding.
	ErrConcurrentSnapshot = wrap(KindConcurrentSnapshot, errors.New("snapshot already outstanding"))

	// ErrCancelled marks an operation that unwound due to cancellation rather than failure.
	ErrCancelled = wrap(KindCancelled, errors.New("operation cancelled"))
)

// ConnectFailed wraps a dial error raised by SocketContext's connect-on-demand.
func ConnectFailed(err error) error { return wrap(KindConnectFailed, err) }

// SendTimeout wraps any error from a bounded Send, per spec policy that
// every send-path I/O failure — timeout or otherwise — is contained the
// same way.
func SendTimeout(err error) error { return wrap(KindSendTimeout, err) }

// ReceiveTimeout wraps any error from a bounded Receive, symmetric to SendTimeout.
func ReceiveTimeout(err error) error { return wrap(KindReceiveTimeout, err) }

// TransportClosed wraps a failure of the shared Transport.
func TransportClosed(err error) error { return wrap(KindTransportClosed, err) }
