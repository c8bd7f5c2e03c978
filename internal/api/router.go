// Package api is the thin HTTP surface over the core services. The shape
// of this surface is not part of the core contract; it exists so the
// platform can be run and exercised end to end.
package api

import (
	"log/slog"
	"net/http"

	custommw "github.com/clearpathsec/bastion/internal/api/middleware"
	"github.com/clearpathsec/bastion/internal/authz"
	"github.com/clearpathsec/bastion/internal/identity"
	"github.com/clearpathsec/bastion/internal/token"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the router and the services the handlers call.
type Server struct {
	Router   *chi.Mux
	Identity *identity.Service
	Tokens   *token.Service
	Authz    *authz.Engine
	Logger   *slog.Logger
}

func NewServer(identitySvc *identity.Service, tokens *token.Service, authzEngine *authz.Engine, log *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(custommw.RequestLogger)
	r.Use(custommw.PanicRecovery)

	limiter := custommw.NewIPRateLimiter(5, 10)
	r.Use(limiter.Middleware)

	server := &Server{
		Router:   r,
		Identity: identitySvc,
		Tokens:   tokens,
		Authz:    authzEngine,
		Logger:   log,
	}

	requireAuth := custommw.AuthMiddleware(tokens)

	r.Get("/health", server.handleHealth)
	r.Get("/.well-known/jwks.json", server.handleJWKS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", server.handleRegister)
		r.Post("/auth/login", server.handleLogin)
		r.Post("/auth/mfa/complete", server.handleCompleteMFA)
		r.Post("/auth/refresh", server.handleRefresh)
		r.Post("/auth/logout", server.handleLogout)
		r.Post("/auth/introspect", server.handleIntrospect)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/authz/check", server.handleAuthzCheck)
			r.Post("/account/passkeys", server.handleRegisterPasskey)
			r.Post("/account/password", server.handleChangePassword)
		})
	})

	return server
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.Tokens.Keys().JWKS())
}
