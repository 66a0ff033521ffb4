// Package driver wires a Multiplexer to a real network edge: the listener
// binds a local TCP port and dials out over WebSocket, the server accepts
// WebSocket upgrades and auto-connects each socket to a fixed target.
package driver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wsmux/internal/config"
	"wsmux/internal/mux"
	"wsmux/internal/transport"
)

// ListenerDriver binds a local TCP listener and relays every accepted
// connection through one multiplex session dialed out to a remote server.
type ListenerDriver struct {
	cfg config.ListenerConfig
	log *logrus.Entry

	nextID uint64
}

// NewListenerDriver builds a ListenerDriver from cfg.
func NewListenerDriver(cfg config.ListenerConfig, log *logrus.Entry) *ListenerDriver {
	return &ListenerDriver{cfg: cfg, log: log}
}

// Run dials the remote server, binds the local listener, and runs the
// multiplex session and the accept loop concurrently until ctx is
// cancelled or either fails.
func (d *ListenerDriver) Run(ctx context.Context) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return errors.Wrap(err, "dial tunnel")
	}
	ws := transport.NewWebSocket(conn)

	ln, err := net.Listen("tcp", d.cfg.ListenAddress)
	if err != nil {
		_ = ws.Close()
		return errors.Wrapf(err, "listen on %s", d.cfg.ListenAddress)
	}

	durations := toMuxDurations(d.cfg.Durations())
	sockets := mux.NewListenerSocketMap(d.log)
	multiplexer := mux.NewMultiplexer(ws, sockets, d.cfg.Durations().SessionIdle, d.cfg.Durations().SendTimeout, d.log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return multiplexer.Multiplex(groupCtx) })
	group.Go(func() error {
		defer ln.Close()
		// Accept does not watch groupCtx; closing the listener is what
		// unblocks it when the session ends.
		go func() {
			<-groupCtx.Done()
			_ = ln.Close()
		}()
		return d.acceptLoop(groupCtx, ln, sockets, durations)
	})

	err = group.Wait()
	_ = ln.Close()
	return err
}

// acceptLoop accepts local TCP connections and registers each as a fresh
// SocketContext under a monotonically increasing id (spec.md §9's open
// question on id assignment: a per-session atomic counter is sufficient
// since ids need only be unique within one multiplex session).
func (d *ListenerDriver) acceptLoop(ctx context.Context, ln net.Listener, sockets *mux.ListenerSocketMap, durations mux.Durations) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "accept")
		}

		id := atomic.AddUint64(&d.nextID, 1)
		sc := mux.NewConnectedSocketContext(id, conn, ctx, durations, d.log)
		if err := sockets.AddSocket(id, sc); err != nil {
			d.log.WithError(err).WithField("socket_id", id).Warn("could not register accepted connection")
			_ = sc.Close()
		}
	}
}

func (d *ListenerDriver) dial(ctx context.Context) (*websocket.Conn, error) {
	scheme := "ws"
	if d.cfg.TLS.Enabled {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: d.cfg.ServerAddress, Path: d.cfg.TunnelPath}

	dialer := &websocket.Dialer{
		ReadBufferSize:   d.cfg.ReadBufferSize,
		WriteBufferSize:  d.cfg.WriteBufferSize,
		HandshakeTimeout: 45 * time.Second,
	}
	if d.cfg.TLS.Enabled {
		tlsConfig := &tls.Config{InsecureSkipVerify: !d.cfg.TLS.VerifyCert}
		if d.cfg.TLS.CAFile != "" {
			caCert, err := os.ReadFile(d.cfg.TLS.CAFile)
			if err != nil {
				return nil, errors.Wrap(err, "read CA file")
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, errors.New("parse CA certificate")
			}
			tlsConfig.RootCAs = pool
		}
		dialer.TLSClientConfig = tlsConfig
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "server returned HTTP %d", resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

func toMuxDurations(d config.Durations) mux.Durations {
	return mux.Durations{
		ConnectTimeout: d.ConnectTimeout,
		SendTimeout:    d.SendTimeout,
		IdleTimeout:    d.IdleTimeout,
		LingerDelay:    d.LingerDelay,
	}
}
