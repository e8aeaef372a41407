// Package httpapi mounts the job API on a chi router.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genpipe/internal/http/handlers"
	"genpipe/internal/infra"
	"genpipe/internal/middleware"
)

// Options tunes the middleware stack.
type Options struct {
	Logger          *infra.Logger
	RateLimitPerMin int
	CORSOrigins     []string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
			middleware.Language(""),
		).Post("/", app.CreateJob)
		r.Get("/{id}", app.GetJob)
		r.Get("/{id}/artifacts.zip", app.JobArtifacts)
	})

	r.Get("/v1/catalog/{capability}", app.CatalogList)

	return r
}
