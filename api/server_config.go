package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the relay's API and metrics listeners.
type HTTPServerConfig struct {
	ListenAddr string
	// MetricsAddr serves Prometheus metrics. Empty disables the listener.
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long Shutdown reports not-ready before it stops
	// accepting connections.
	DrainDuration time.Duration
	// GracefulShutdownDuration bounds the wait for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// WithDefaults fills zero timeouts with the values the relay runs with.
func (c *HTTPServerConfig) WithDefaults() *HTTPServerConfig {
	if c.GracefulShutdownDuration == 0 {
		c.GracefulShutdownDuration = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	return c
}
