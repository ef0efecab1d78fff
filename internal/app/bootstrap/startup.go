// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"time"

	"github.com/dalemusser/rollchart/internal/app/resources"
	chartstore "github.com/dalemusser/rollchart/internal/app/store/charts"
	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/dalemusser/rollchart/internal/app/system/ratelimit"
	"github.com/dalemusser/rollchart/internal/app/system/timeouts"
	"github.com/dalemusser/rollchart/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// services are built in Startup and shared by BuildHandler and Shutdown.
type services struct {
	views   *chartview.Registry
	cleanup *workers.ViewCleanup
	opens   *ratelimit.Limiter
}

var svc *services

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It loads
// the shared templates, builds the chart view registry on the chart store
// and starts the idle-view sweeper.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{
		Fetch:  appCfg.ViewFetchTimeout,
		Settle: appCfg.SettleTimeout,
	})
	tc := timeouts.Current()
	logger.Info("timeouts configured",
		zap.Duration("ping", tc.Ping),
		zap.Duration("fetch", tc.Fetch),
		zap.Duration("settle", tc.Settle),
		zap.Duration("batch", tc.Batch))

	resources.LoadSharedTemplates()

	svc = newServices(chartstore.New(deps.MongoDatabase), appCfg, logger)
	svc.cleanup.Start()
	return nil
}

func newServices(src chartview.Source, appCfg AppConfig, logger *zap.Logger) *services {
	views := chartview.NewRegistry(src, timeouts.Fetch(), logger.Named("chartview"))
	return &services{
		views:   views,
		cleanup: workers.NewViewCleanup(views, logger, appCfg.ViewSweepInterval, appCfg.ViewIdleTimeout),
		opens:   ratelimit.New(appCfg.ViewOpenLimit, time.Minute),
	}
}
