package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all registry endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/agents", a.handleListAgents)
		r.Get("/agents/{handle}", a.handleGetAgent)
		r.Get("/agents/{handle}/works", a.handleListWorks)
		r.Get("/agents/{handle}/works/{workID}", a.handleGetWork)

		r.Group(func(r chi.Router) {
			r.Use(a.auth.requireService)
			r.Post("/agents", a.handleUpsertAgent)
			r.Post("/agents/{handle}/works", a.handleIngestWorks)
			r.Post("/agents/{handle}/works/{workID}/archive", a.handleArchiveWork)
		})
	})

	return r, nil
}
