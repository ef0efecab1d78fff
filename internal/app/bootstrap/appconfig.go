// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings (ports, TLS, logging, CORS); everything specific
// to the chart service lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI            string        // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase       string        // Database name within MongoDB
	MongoMaxPoolSize    uint64        // Max connections in the driver pool
	MongoMinPoolSize    uint64        // Connections kept open when idle
	MongoConnectTimeout time.Duration // Bound on the initial connect and ping

	// Session cookie that remembers each browser's chart view
	SessionKey    string // Secret key for signing session cookies (must be strong in production)
	SessionName   string // Cookie name (default: rollchart-session)
	SessionDomain string // Cookie domain (blank means current host)

	// Chart views
	ViewFetchTimeout  time.Duration // Bound on each chart query a view issues
	ViewIdleTimeout   time.Duration // Views untouched this long are stopped
	ViewSweepInterval time.Duration // How often idle views are swept
	SettleTimeout     time.Duration // How long a request waits for a view to settle
	ViewOpenLimit     int           // New views one client may start per minute
	TrustProxyHeaders bool          // Identify clients by X-Forwarded-For / X-Real-IP

	// Origins allowed to open the websocket state stream (empty allows any)
	WSAllowedOrigins []string
}
