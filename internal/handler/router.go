package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/fairmatch/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.CreateJob)
			r.Get("/", h.ListJobs)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.GetJob)
				r.Get("/bids", h.GetBids)
				r.Get("/candidates", h.GetCandidates)

				r.Group(func(r chi.Router) {
					if h.bidLimiter != nil {
						r.Use(h.bidLimiter.Middleware)
					}
					r.Post("/bids", h.PlaceBid)
				})
			})
		})

		r.Post("/bids/{bidID}/accept", h.AcceptBid)

		r.Route("/geo", func(r chi.Router) {
			r.Post("/location", h.UpdateLocation)
			r.Get("/nearby", h.Nearby)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
