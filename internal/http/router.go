package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http/handlers"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	AuthToken      string
	Revocations    middleware.RevocationChecker
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the chi tree. Auth guards /v1 and the document routes also
// require an owner. ctx bounds the lifetime of the rate limiter's sweeper.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Trace(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}))
	r.Use(middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst))

	r.Get("/healthz", deps.API.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.AuthToken, deps.Revocations, deps.Logger))

		r.Get("/queue/scaling", deps.API.Scaling)

		r.Route("/documents", func(r chi.Router) {
			r.Use(middleware.RequireOwner)
			r.Post("/", deps.API.UploadDocument)
			r.Get("/", deps.API.ListDocuments)
			r.Get("/{documentID}", deps.API.GetDocument)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
