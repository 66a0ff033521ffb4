package driver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wsmux/internal/config"
	"wsmux/internal/mux"
	"wsmux/internal/transport"
)

// ServerDriver accepts WebSocket upgrades on a fixed HTTP path and runs one
// multiplex session per connection, auto-connecting each referenced
// SocketId to a single fixed TCP target.
type ServerDriver struct {
	cfg      config.ServerConfig
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

// NewServerDriver builds a ServerDriver from cfg.
func NewServerDriver(cfg config.ServerConfig, log *logrus.Entry) *ServerDriver {
	return &ServerDriver{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
			Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
				log.WithError(reason).WithField("status", status).Warn("websocket upgrade failed")
			},
		},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails to serve.
func (d *ServerDriver) Run(ctx context.Context) error {
	router := http.NewServeMux()
	router.HandleFunc(d.cfg.TunnelPath, d.handleSession)

	srv := &http.Server{Addr: d.cfg.ListenAddress, Handler: router}

	errs := make(chan error, 1)
	go func() {
		var err error
		if d.cfg.TLS.CertFile != "" && d.cfg.TLS.KeyFile != "" {
			d.log.WithField("address", d.cfg.ListenAddress).Info("starting tunnel server with TLS")
			err = srv.ListenAndServeTLS(d.cfg.TLS.CertFile, d.cfg.TLS.KeyFile)
		} else {
			d.log.WithField("address", d.cfg.ListenAddress).Warn("starting tunnel server without TLS")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errs <- errors.Wrap(err, "serve")
		} else {
			errs <- nil
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.log.WithError(err).Warn("server shutdown")
		}
		<-errs
		return ctx.Err()
	}
}

// handleSession upgrades one incoming HTTP request to a WebSocket and runs
// a Multiplexer over it until the session ends.
func (d *ServerDriver) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.WithError(err).Warn("upgrade failed")
		return
	}
	ws := transport.NewWebSocket(conn)

	ctx := r.Context()
	durations := toMuxDurations(d.cfg.Durations())
	dial := func(dialCtx context.Context, target string) (net.Conn, error) {
		dialer := net.Dialer{}
		return dialer.DialContext(dialCtx, "tcp", target)
	}

	inner := mux.NewListenerSocketMap(d.log)
	sockets := mux.NewAutoConnectSocketMap(inner, d.cfg.TargetAddress, dial, ctx, durations, d.log)
	multiplexer := mux.NewMultiplexer(ws, sockets, d.cfg.Durations().SessionIdle, d.cfg.Durations().SendTimeout, d.log)

	if err := multiplexer.Multiplex(ctx); err != nil {
		d.log.WithError(err).Warn("multiplex session ended")
	}
}
