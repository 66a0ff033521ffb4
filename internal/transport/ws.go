package transport

import (
	"context"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// MaxMessageSize bounds a single WebSocket message, id suffix included.
const MaxMessageSize = 1 << 20

// WebSocket adapts a *websocket.Conn to Transport. Binary messages map
// 1:1 onto Transport messages; gorilla/websocket already preserves
// message boundaries, so no additional framing is needed here.
//
// gorilla/websocket permits one concurrent reader and one concurrent
// writer; writeMu serializes writers since a Multiplexer calls Send from
// more than one goroutine (every per-socket receive task, plus the tunnel
// pump when it originates a close frame). Reads are never concurrent by
// construction (only the tunnel pump calls Receive), so no readMu is needed.
type WebSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocket wraps an already-established connection, client or server side.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(MaxMessageSize)
	return &WebSocket{conn: conn}
}

// Send writes message as a single binary WebSocket frame.
func (w *WebSocket) Send(ctx context.Context, message []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		if err := w.conn.SetWriteDeadline(dl); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Receive reads the next binary message into buf, returning the number of
// bytes copied. A non-binary message (e.g. a stray text or control frame
// gorilla surfaces as a message) is treated as a protocol error.
func (w *WebSocket) Receive(ctx context.Context, buf []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		if err := w.conn.SetReadDeadline(dl); err != nil {
			return 0, errors.Wrap(err, "set read deadline")
		}
	}

	kind, reader, err := w.conn.NextReader()
	if err != nil {
		return 0, errors.Wrap(err, "next reader")
	}
	if kind != websocket.BinaryMessage {
		return 0, errors.Errorf("unexpected websocket message type %d", kind)
	}

	total := 0
	for {
		if total == len(buf) {
			n, peekErr := reader.Read(make([]byte, 1))
			if n > 0 || peekErr == nil {
				return total, errors.New("message exceeds buffer capacity")
			}
			break
		}
		n, readErr := reader.Read(buf[total:])
		total += n
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, errors.Wrap(readErr, "read message")
		}
	}
	return total, nil
}

// Close closes the underlying connection.
func (w *WebSocket) Close() error {
	return w.conn.Close()
}
