package api

import (
	"net/http"

	"github.com/Rrens/laundry-chat/internal/api/handler"
	customMiddleware "github.com/Rrens/laundry-chat/internal/api/middleware"
	"github.com/Rrens/laundry-chat/internal/config"
	"github.com/Rrens/laundry-chat/internal/hub"
	"github.com/Rrens/laundry-chat/internal/security"
	"github.com/Rrens/laundry-chat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the wired components the router exposes
type Dependencies struct {
	Chat        *service.ChatService
	Hub         *hub.Hub
	JWT         *security.JWTManager
	RateLimiter customMiddleware.RateLimiter // nil disables HTTP rate limiting
	Ready       map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	chatHandler := handler.NewChatHandler(deps.Chat)
	wsHandler := handler.NewWSHandler(deps.Hub, deps.JWT, cfg.Auth.RequireSocketToken)
	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)

	// Long-lived; kept outside the request timeout
	r.Get("/ws", wsHandler.Serve)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			if deps.RateLimiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
			}

			r.Get("/unread", chatHandler.Unread)

			r.Route("/chats", func(r chi.Router) {
				r.Post("/", chatHandler.Create)
				r.Get("/user/{userID}", chatHandler.ListByUser)
				r.Get("/{orderID}/messages", chatHandler.Messages)
			})
		})
	})

	return r
}
