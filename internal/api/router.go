package api

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	customMiddleware "github.com/halcyon-sec/authgate/internal/api/middleware"
)

// Server bundles the router with its dependencies.
type Server struct {
	Router *chi.Mux
}

// NewServer builds the HTTP surface: middleware stack, public auth
// endpoints and the bearer-protected group.
func NewServer(service AuthService) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Sentry before recovery so panics reach it with request scope.
	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
	})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	// Coarse flood protection for the whole API; the durable
	// per-source attempt limiter lives inside the login path.
	limiter := customMiddleware.NewIPRateLimiter(5, 10)
	r.Use(limiter.Middleware)

	requireAuth := customMiddleware.AuthMiddleware(service)

	handler := NewAuthHandler(service)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", handler.Login)
			r.Post("/refresh", handler.Refresh)
			r.Post("/register", handler.Register)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/password", handler.ChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", handler.Me)
		})
	})

	return &Server{Router: r}
}
