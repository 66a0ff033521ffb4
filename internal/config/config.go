// Package config loads the YAML configuration for the listener and server
// binaries, mirroring the shape of a tunnel.Config (flat, yaml-tagged,
// seconds-based durations with documented defaults).
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the spec's recommended starting values; any zero field in
// a loaded config is filled in from these before use.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultSendTimeout    = 10 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultLingerDelay    = 2 * time.Second
	DefaultSessionIdle    = 90 * time.Second

	DefaultReadBufferSize  = 32 * 1024
	DefaultWriteBufferSize = 32 * 1024
)

// rawDurations is the YAML-facing shape: all durations are whole seconds,
// zero meaning "use the default", matching the teacher config's
// seconds-as-int convention.
type rawDurations struct {
	ConnectTimeoutSeconds int `yaml:"connectTimeoutSeconds"`
	SendTimeoutSeconds    int `yaml:"sendTimeoutSeconds"`
	IdleTimeoutSeconds    int `yaml:"idleTimeoutSeconds"`
	LingerDelaySeconds    int `yaml:"lingerDelaySeconds"`
	SessionIdleSeconds    int `yaml:"sessionIdleSeconds"`
}

func (r rawDurations) connectTimeout() time.Duration {
	return secondsOr(r.ConnectTimeoutSeconds, DefaultConnectTimeout)
}
func (r rawDurations) sendTimeout() time.Duration { return secondsOr(r.SendTimeoutSeconds, DefaultSendTimeout) }
func (r rawDurations) idleTimeout() time.Duration { return secondsOr(r.IdleTimeoutSeconds, DefaultIdleTimeout) }
func (r rawDurations) lingerDelay() time.Duration { return secondsOr(r.LingerDelaySeconds, DefaultLingerDelay) }
func (r rawDurations) sessionIdle() time.Duration { return secondsOr(r.SessionIdleSeconds, DefaultSessionIdle) }

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// TLS carries the optional client or server TLS material, matching the
// teacher config's useTLS/verifyCert/caFile/certFile/keyFile fields.
type TLS struct {
	Enabled    bool   `yaml:"useTLS"`
	VerifyCert bool   `yaml:"verifyCert"`
	CAFile     string `yaml:"caFile,omitempty"`
	CertFile   string `yaml:"certFile,omitempty"`
	KeyFile    string `yaml:"keyFile,omitempty"`
}

// ListenerConfig configures the listener binary: it binds a local TCP
// listener and dials out to a remote server over WebSocket.
type ListenerConfig struct {
	ListenAddress string `yaml:"listenAddress"`
	ServerAddress string `yaml:"serverAddress"`
	TunnelPath    string `yaml:"tunnelPath"`

	TLS TLS `yaml:"tls"`

	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile,omitempty"`

	ReadBufferSize  int `yaml:"readBufferSize"`
	WriteBufferSize int `yaml:"writeBufferSize"`

	rawDurations `yaml:",inline"`
}

// ServerConfig configures the server binary: it accepts WebSocket upgrades
// and auto-connects each referenced SocketId to a fixed TCP target.
type ServerConfig struct {
	ListenAddress string `yaml:"listenAddress"`
	TunnelPath    string `yaml:"tunnelPath"`
	TargetAddress string `yaml:"targetAddress"`

	TLS TLS `yaml:"tls"`

	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile,omitempty"`

	ReadBufferSize  int `yaml:"readBufferSize"`
	WriteBufferSize int `yaml:"writeBufferSize"`

	rawDurations `yaml:",inline"`
}

// Durations are the spec's mux.Durations plus the session-level idle
// timeout Pump A uses to bound each transport receive.
type Durations struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	IdleTimeout    time.Duration
	LingerDelay    time.Duration
	SessionIdle    time.Duration
}

// Durations resolves l's raw seconds-based fields to a Durations, applying
// defaults for anything left at zero.
func (l ListenerConfig) Durations() Durations {
	return Durations{
		ConnectTimeout: l.connectTimeout(),
		SendTimeout:    l.sendTimeout(),
		IdleTimeout:    l.idleTimeout(),
		LingerDelay:    l.lingerDelay(),
		SessionIdle:    l.sessionIdle(),
	}
}

// Durations resolves s's raw seconds-based fields, symmetric to ListenerConfig.
func (s ServerConfig) Durations() Durations {
	return Durations{
		ConnectTimeout: s.connectTimeout(),
		SendTimeout:    s.sendTimeout(),
		IdleTimeout:    s.idleTimeout(),
		LingerDelay:    s.lingerDelay(),
		SessionIdle:    s.sessionIdle(),
	}
}

// LoadListenerConfig reads and parses a listener YAML config, filling in
// buffer-size defaults.
func LoadListenerConfig(path string) (*ListenerConfig, error) {
	var cfg ListenerConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyBufferDefaults(&cfg.ReadBufferSize, &cfg.WriteBufferSize)
	if cfg.TunnelPath == "" {
		cfg.TunnelPath = "/tunnel"
	}
	return &cfg, nil
}

// LoadServerConfig reads and parses a server YAML config, symmetric to
// LoadListenerConfig.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyBufferDefaults(&cfg.ReadBufferSize, &cfg.WriteBufferSize)
	if cfg.TunnelPath == "" {
		cfg.TunnelPath = "/tunnel"
	}
	return &cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "parse config")
	}
	return nil
}

func applyBufferDefaults(read, write *int) {
	if *read == 0 {
		*read = DefaultReadBufferSize
	}
	if *write == 0 {
		*write = DefaultWriteBufferSize
	}
}
