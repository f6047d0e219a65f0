package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tutorlink/identity/internal/api/handler"
	"github.com/tutorlink/identity/internal/api/middleware"
	"github.com/tutorlink/identity/internal/identity"
	"github.com/tutorlink/identity/internal/promotion"
	"github.com/tutorlink/identity/internal/session"
	"github.com/tutorlink/identity/internal/token"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	DBPinger       handler.DBPinger
	Storage        string
	Version        string
	OpenAPISpec    []byte
	Sessions       *session.Service
	Promotions     *promotion.Service
	Signer         *token.Signer
	MetricsHandler http.Handler
	RateLimit      middleware.RateLimitConfig
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	healthHandler := handler.NewHealthHandler(deps.DBPinger, deps.Storage, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	if deps.Sessions == nil || deps.Signer == nil {
		return r
	}

	authenticate := middleware.Authenticate(deps.Signer)
	accountHandler := handler.NewAccountHandler(deps.Sessions)

	r.Route("/api/account", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(deps.RateLimit))
			r.Post("/register", accountHandler.Register)
			r.Get("/confirm-email", accountHandler.ConfirmEmail)
			r.Post("/login", accountHandler.Login)
			r.Post("/login-google", accountHandler.LoginGoogle)
			r.Post("/refresh-token", accountHandler.Refresh)
			r.Post("/logout", accountHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/me", accountHandler.Me)
			r.Get("/sessions", accountHandler.Sessions)
			r.Post("/logout-all", accountHandler.LogoutAll)
		})
	})

	if deps.Promotions == nil {
		return r
	}

	tutorHandler := handler.NewTutorRequestHandler(deps.Promotions)
	adminHandler := handler.NewAdminHandler(deps.Promotions, deps.Sessions)

	r.Route("/api/tutor-requests", func(r chi.Router) {
		r.Use(authenticate)
		r.With(middleware.RequireRole(identity.RoleUser)).Post("/", tutorHandler.Apply)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(identity.RoleAdmin))

		r.Get("/tutor-requests", tutorHandler.ListPending)
		r.Put("/tutor-requests/{id}/approve", tutorHandler.Approve)
		r.Put("/tutor-requests/{id}/reject", tutorHandler.Reject)
		r.Put("/promote-to-teacher/{id}", tutorHandler.Approve)
		r.Post("/update-role", adminHandler.UpdateRole)
		r.Get("/users/{id}/role-history", adminHandler.RoleHistory)
		r.Put("/users/{id}/active", adminHandler.SetActive)
	})

	return r
}
