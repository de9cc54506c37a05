package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"orchestrator/internal/http/handlers"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.JobsCreate)
		r.Get("/{job_id}", app.JobStatus)
		r.Post("/{job_id}/cancel", app.JobCancel)
	})

	r.Route("/v1/groups", func(r chi.Router) {
		r.Get("/{group_id}", app.GroupGet)
		r.Post("/{group_id}/regenerate", app.GroupRegenerate)
		r.Post("/{group_id}/final", app.GroupSetFinal)
	})

	return r
}
