// ABOUTME: chi router for the chat API with CORS, request logging, and admission middleware
// ABOUTME: Every API route is reachable both at the root and under /api

package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/2389/chat-gateway/internal/auth"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(g.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}

	g.registerAPI(r)
	r.Route("/api", g.registerAPI)

	return r
}

func (g *Gateway) registerAPI(r chi.Router) {
	requireAuth := auth.HTTPAuthMiddleware(g.verifier)

	r.With(auth.OptionalAuthMiddleware(g.verifier)).Post("/session", g.handleSession)
	r.With(g.governor.Verification).Post("/user-send-verification-code", g.handleSendVerificationCode)

	r.Group(func(p chi.Router) {
		p.Use(g.governor.Auth)
		p.Use(requireAuth)

		p.Get("/chatrooms", g.handleListRooms)
		p.Post("/room-create", g.handleCreateRoom)
		p.Post("/room-rename", g.handleRenameRoom)
		p.Post("/room-prompt", g.handleRoomPrompt)
		p.Post("/room-context", g.handleRoomContext)
		p.Post("/room-delete", g.handleDeleteRoom)

		p.Get("/chat-history", g.handleChatHistory)
		p.Get("/chat-response-history", g.handleResponseHistory)
		p.Post("/chat-delete", g.handleChatDelete)
		p.Post("/chat-clear", g.handleChatClear)
		p.Post("/chat-clear-all", g.handleChatClearAll)

		p.With(g.governor.Chat).Post("/chat-process", g.handleChatProcess)
		p.With(g.governor.Chat).Post("/chat-abort", g.handleChatAbort)

		p.Post("/statistics/by-day", g.handleStatisticsByDay)

		p.Group(func(a chi.Router) {
			a.Use(auth.RequireAdminHTTP())
			a.Get("/setting-keys", g.handleListKeys)
			a.Post("/setting-key-upsert", g.handleUpsertKey)
			a.Post("/setting-key-status", g.handleKeyStatus)
		})
	})
}

// requestLogger logs each request through slog and records it in metrics
// under its route pattern.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		d := time.Since(start)
		g.metrics.ObserveHTTP(r.Method, route, ww.Status(), d)
		g.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", d,
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
