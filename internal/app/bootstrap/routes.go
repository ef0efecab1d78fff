// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	chartfeature "github.com/dalemusser/rollchart/internal/app/features/chart"
	healthfeature "github.com/dalemusser/rollchart/internal/app/features/health"
	"github.com/dalemusser/rollchart/internal/app/system/timeouts"
	"github.com/dalemusser/rollchart/internal/app/system/viewsession"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed. It boots the template engine, builds the view
// session manager and mounts the health and chart feature routers.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	if svc == nil {
		return nil, errors.New("startup has not run")
	}

	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessions, err := viewsession.New(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, secure, logger)
	if err != nil {
		logger.Error("view session init failed", zap.Error(err))
		return nil, err
	}

	// Dev mode enables template reloading for faster iteration.
	eng := templates.New(coreCfg.Env == "dev")
	if err := eng.Boot(logger); err != nil {
		logger.Error("template engine boot failed", zap.Error(err))
		return nil, err
	}
	templates.UseEngine(eng, logger)

	return newRouter(deps, sessions, appCfg, logger), nil
}

func newRouter(deps DBDeps, sessions *viewsession.Manager, appCfg AppConfig, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Attendance chart, one view per browser and class
	chartHandler := chartfeature.NewHandler(svc.views, sessions, timeouts.Settle(), appCfg.WSAllowedOrigins, svc.opens, logger)
	chartHandler.TrustProxy = appCfg.TrustProxyHeaders
	r.Mount("/classes/{"+chartfeature.ClassParam+"}/chart", chartfeature.Routes(chartHandler))

	return r
}
