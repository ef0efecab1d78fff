// internal/app/features/chart/routes.go
package chart

import "github.com/go-chi/chi/v5"

// Routes returns the chart subrouter. Mount it under /classes/{classNamee}/chart.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeChart)
	r.Post("/date", h.HandleSelectDate)
	r.Post("/period", h.HandleSelectPeriod)
	r.Get("/state", h.ServeState)
	r.Get("/ws", h.ServeStream)
	return r
}
