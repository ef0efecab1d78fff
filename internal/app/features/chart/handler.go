// internal/app/features/chart/handler.go
package chart

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/dalemusser/rollchart/internal/app/system/ratelimit"
	"github.com/dalemusser/rollchart/internal/app/system/timeouts"
	"github.com/dalemusser/rollchart/internal/app/system/viewsession"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClassParam is the chi URL parameter carrying the class identifier.
const ClassParam = "classNamee"

// Handler serves the attendance chart for a class.
type Handler struct {
	Views         *chartview.Registry
	Sessions      *viewsession.Manager
	SettleTimeout time.Duration
	Opens         *ratelimit.Limiter // bounds new views per client; nil means no bound
	TrustProxy    bool               // key Opens on forwarding headers instead of RemoteAddr
	Log           *zap.Logger

	upgrader websocket.Upgrader
}

// NewHandler constructs a chart Handler. allowedOrigins limits which origins
// may open the state stream; empty allows any.
func NewHandler(views *chartview.Registry, sessions *viewsession.Manager, settleTimeout time.Duration, allowedOrigins []string, opens *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		Views:         views,
		Sessions:      sessions,
		SettleTimeout: settleTimeout,
		Opens:         opens,
		Log:           logger,
		upgrader:      buildUpgrader(allowedOrigins),
	}
}

// PagePath returns the chart page path for a class.
func PagePath(classID string) string {
	return "/classes/" + url.PathEscape(classID) + "/chart/"
}

// BackPath returns the class page the chart links back to.
func BackPath(classID string) string {
	return "/en/auth/class/" + url.PathEscape(classID)
}

// openView returns the browser's view for the class in the route, starting a
// new one when the session has none (or it has been swept). When the client
// may not start another view it writes 429 and returns nil.
func (h *Handler) openView(w http.ResponseWriter, r *http.Request) (*chartview.View, bool) {
	classID := chi.URLParam(r, ClassParam)
	id := h.Sessions.ViewID(r, classID)
	if v, ok := h.Views.Get(id); ok && v.ClassID() == classID {
		return v, false
	}

	if h.Opens != nil {
		ip := h.clientIP(r)
		if !h.Opens.Allow(ip) {
			h.Log.Warn("too many new chart views", zap.String("ip", ip), zap.String("class", classID))
			w.Header().Set("X-RateLimit-Remaining", "0")
			http.Error(w, "too many requests, try again shortly", http.StatusTooManyRequests)
			return nil, false
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.Opens.Remaining(ip)))
	}

	v, created := h.Views.Open(id, classID)
	if created {
		if err := h.Sessions.SetViewID(w, r, classID, v.ID()); err != nil {
			h.Log.Warn("save chart view session failed",
				zap.String("class", classID),
				zap.String("view_id", v.ID()),
				zap.Error(err))
		}
	}
	return v, created
}

func (h *Handler) clientIP(r *http.Request) string {
	if h.TrustProxy {
		return ratelimit.ClientIP(r)
	}
	return ratelimit.RemoteIP(r)
}

// settle waits for the view's pending fetches within the settle timeout.
func (h *Handler) settle(ctx context.Context, v *chartview.View) (chartview.State, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, h.SettleTimeout, h.Log, "chart settle")
	defer cancel()
	return v.Settle(ctx)
}

// pageState settles v for rendering. When the settle timeout passes first it
// returns the current snapshot, which is still loading, instead of an error.
func (h *Handler) pageState(ctx context.Context, v *chartview.View) (chartview.State, error) {
	s, err := h.settle(ctx, v)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		h.Log.Info("rendering chart while still loading",
			zap.String("view_id", v.ID()),
			zap.String("class", v.ClassID()))
		return v.Snapshot(), nil
	}
	return s, err
}

// settleError writes the response for a failed settle and reports whether
// one was written.
func (h *Handler) settleError(w http.ResponseWriter, v *chartview.View, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, chartview.ErrStopped):
		h.Log.Info("chart view stopped during request", zap.String("view_id", v.ID()))
		http.Error(w, "chart view expired, reload the page", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		h.Log.Warn("chart view did not settle in time",
			zap.String("view_id", v.ID()),
			zap.String("class", v.ClassID()),
			zap.Duration("timeout", h.SettleTimeout))
		http.Error(w, "attendance is taking too long to load", http.StatusGatewayTimeout)
	default:
		// Client went away.
		h.Log.Debug("chart settle aborted", zap.String("view_id", v.ID()), zap.Error(err))
	}
	return true
}
