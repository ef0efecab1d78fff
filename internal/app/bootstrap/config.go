// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/viewsession"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for RollChart.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: ROLLCHART_MONGO_URI, ROLLCHART_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "rollchart", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 5, Desc: "MongoDB min connection pool size (default: 5)"},
	{Name: "mongo_connect_timeout", Default: "10s", Desc: "MongoDB connect and initial ping timeout"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "rollchart-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},

	// Chart views
	{Name: "view_fetch_timeout", Default: "5s", Desc: "Timeout for each chart query a view issues"},
	{Name: "view_idle_timeout", Default: "30m", Desc: "Stop chart views untouched for this long"},
	{Name: "view_sweep_interval", Default: "1m", Desc: "How often idle chart views are swept"},
	{Name: "settle_timeout", Default: "15s", Desc: "How long a request waits for a chart view to finish loading"},
	{Name: "view_open_limit", Default: 60, Desc: "New chart views one client may start per minute"},
	{Name: "trust_proxy_headers", Default: false, Desc: "Identify clients by X-Forwarded-For (enable only behind a proxy that sets it)"},

	// Websocket
	{Name: "ws_allowed_origins", Default: "", Desc: "Comma-separated origins allowed to open the chart stream (blank allows any)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// environment variables (WAFFLE_* for core, ROLLCHART_* for app) and
// command-line flags, merged with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "ROLLCHART", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:            appValues.String("mongo_uri"),
		MongoDatabase:       appValues.String("mongo_database"),
		MongoMaxPoolSize:    uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize:    uint64(appValues.Int("mongo_min_pool_size")),
		MongoConnectTimeout: appValues.Duration("mongo_connect_timeout", 10*time.Second),
		SessionKey:          appValues.String("session_key"),
		SessionName:         appValues.String("session_name"),
		SessionDomain:       appValues.String("session_domain"),

		ViewFetchTimeout:  appValues.Duration("view_fetch_timeout", 5*time.Second),
		ViewIdleTimeout:   appValues.Duration("view_idle_timeout", 30*time.Minute),
		ViewSweepInterval: appValues.Duration("view_sweep_interval", time.Minute),
		SettleTimeout:     appValues.Duration("settle_timeout", 15*time.Second),
		ViewOpenLimit:     appValues.Int("view_open_limit"),
		TrustProxyHeaders: appValues.Bool("trust_proxy_headers"),

		WSAllowedOrigins: splitList(appValues.String("ws_allowed_origins")),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return errors.New("mongo_database must be set")
	}
	if appCfg.MongoMinPoolSize > appCfg.MongoMaxPoolSize {
		return fmt.Errorf("mongo_min_pool_size (%d) exceeds mongo_max_pool_size (%d)",
			appCfg.MongoMinPoolSize, appCfg.MongoMaxPoolSize)
	}

	if len(appCfg.SessionKey) < viewsession.MinKeyLength {
		return fmt.Errorf("session_key must be at least %d characters", viewsession.MinKeyLength)
	}
	if coreCfg != nil && coreCfg.Env == "prod" && strings.HasPrefix(appCfg.SessionKey, "dev-only") {
		return errors.New("session_key must be changed from the development default in prod")
	}

	for name, d := range map[string]time.Duration{
		"view_fetch_timeout":  appCfg.ViewFetchTimeout,
		"view_idle_timeout":   appCfg.ViewIdleTimeout,
		"view_sweep_interval": appCfg.ViewSweepInterval,
		"settle_timeout":      appCfg.SettleTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if appCfg.ViewOpenLimit < 1 {
		return fmt.Errorf("view_open_limit must be at least 1, got %d", appCfg.ViewOpenLimit)
	}
	// A selection can cascade into two rounds of queries.
	if appCfg.SettleTimeout < appCfg.ViewFetchTimeout {
		logger.Warn("settle_timeout is shorter than view_fetch_timeout; slow queries will time out requests",
			zap.Duration("settle_timeout", appCfg.SettleTimeout),
			zap.Duration("view_fetch_timeout", appCfg.ViewFetchTimeout))
	}

	return nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
