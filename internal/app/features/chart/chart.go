// internal/app/features/chart/chart.go
package chart

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/dalemusser/waffle/pantry/templates"
	"go.uber.org/zap"
)

// ServeChart handles GET /classes/{classNamee}/chart/.
// It resumes (or starts) the browser's view and renders the full page once
// every pending fetch has finished. A view still loading after the settle
// timeout is rendered with its loading placeholder.
func (h *Handler) ServeChart(w http.ResponseWriter, r *http.Request) {
	v, _ := h.openView(w, r)
	if v == nil {
		return
	}

	s, err := h.pageState(r.Context(), v)
	if h.settleError(w, v, err) {
		return
	}

	templates.Render(w, r, "chart_page", newChartPageData(r, s))
}

// HandleSelectDate handles POST /classes/{classNamee}/chart/date.
func (h *Handler) HandleSelectDate(w http.ResponseWriter, r *http.Request) {
	h.handleSelect(w, r, "date", func(ctx context.Context, v *chartview.View, value string) error {
		return v.SelectDate(ctx, value)
	})
}

// HandleSelectPeriod handles POST /classes/{classNamee}/chart/period.
func (h *Handler) HandleSelectPeriod(w http.ResponseWriter, r *http.Request) {
	h.handleSelect(w, r, "period", func(ctx context.Context, v *chartview.View, value string) error {
		return v.SelectPeriod(ctx, value)
	})
}

// handleSelect applies one dropdown change. HTMX requests get the refreshed
// panel; plain form posts are redirected back to the page.
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request, field string, apply func(context.Context, *chartview.View, string) error) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	value := strings.TrimSpace(r.PostFormValue(field))
	if value == "" {
		http.Error(w, field+" is required", http.StatusBadRequest)
		return
	}

	v, created := h.openView(w, r)
	if v == nil {
		return
	}
	if created {
		// Let the initial load land first so it does not replace the choice.
		if _, err := h.settle(r.Context(), v); h.settleError(w, v, err) {
			return
		}
	}

	if err := apply(r.Context(), v, value); err != nil {
		h.settleError(w, v, err)
		return
	}
	h.Log.Debug("chart selection",
		zap.String("view_id", v.ID()),
		zap.String("class", v.ClassID()),
		zap.String(field, value))

	s, err := h.pageState(r.Context(), v)
	if h.settleError(w, v, err) {
		return
	}

	if r.Header.Get("HX-Request") != "" {
		templates.RenderSnippet(w, "chart_panel", newChartPageData(r, s))
		return
	}
	http.Redirect(w, r, PagePath(v.ClassID()), http.StatusSeeOther)
}

// ServeState handles GET /classes/{classNamee}/chart/state and writes the
// settled view state as JSON.
func (h *Handler) ServeState(w http.ResponseWriter, r *http.Request) {
	v, _ := h.openView(w, r)
	if v == nil {
		return
	}

	s, err := h.settle(r.Context(), v)
	if h.settleError(w, v, err) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		h.Log.Warn("encode chart state failed", zap.String("view_id", v.ID()), zap.Error(err))
	}
}
