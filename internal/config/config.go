package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the sms service.
type Config struct {
	// Store backend type: "sqlite" or "postgres".
	DBKind string

	// Database location: a file path (or ":memory:") for sqlite, a
	// connection URL for postgres.
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Connection pool limits (postgres only; sqlite uses a single handle).
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Sleep between poll cycles. A cycle always runs to completion before
	// the next sleep starts, so cycles never overlap.
	PollInterval time.Duration

	// Disable the ingestion poller (query-only deployments).
	PollDisabled bool

	// Main API listener.
	Listener ListenerConfig

	// Management listener (health, metrics, modem listing). Only used when
	// ManagementListenerEnabled; otherwise management routes are mounted on
	// the main listener.
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool

	// Log requests to management endpoints.
	ManagementAccessLog bool

	// CORS
	CORSEnabled bool
	CORSOrigins string

	// Constant labels added to all Prometheus metrics ("k=v,k2=v2").
	MetricsLabels string

	// Seconds to wait for in-flight requests during shutdown.
	DrainTimeout int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DBKind:                  "sqlite",
		DBURL:                   "sms.db",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          10,
		DBMaxIdleConns:          2,
		PollInterval:            1 * time.Second,
		Listener: ListenerConfig{
			Port:            3030,
			EnablePlainText: true,
		},
		ManagementListener: ListenerConfig{
			Port:            9090,
			EnablePlainText: true,
		},
		DrainTimeout: 10,
	}
}
