package numbers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers dashboard phone number routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/numbers", h.List)
	r.Post("/v1/numbers/purchase", h.Purchase)
	r.Post("/v1/numbers/verify", h.Verify)
	r.Post("/v1/numbers/{id}/retry", h.Retry)
	r.Get("/v1/numbers/{id}/verification", h.Status)
	r.Delete("/v1/numbers/{id}", h.Delete)
	r.Put("/v1/numbers/{id}/default", h.SetDefault)
}
