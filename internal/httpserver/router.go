package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"pollchat/internal/config"
	"pollchat/internal/domain"
	"pollchat/internal/files"
	"pollchat/internal/security"
	"pollchat/internal/service"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config        *config.Config
	Log           zerolog.Logger
	Tokens        *security.TokenService
	Users         domain.UserRepository
	Messages      *service.MessageService
	Feed          *service.FeedService
	Conversations *service.ConversationService
	Files         *files.Local
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(d.Log))
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "version": "1.0.0"})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Tokens, d.Users))

		r.Route("/chats/{chatType}/{chatID}", func(r chi.Router) {
			r.Post("/messages", handleSend(d.Messages))
			r.Get("/messages", handlePoll(d.Feed, cfg.PollInterval))
			r.Get("/history", handleHistory(d.Messages))
			r.Post("/read", handleAcknowledge(d.Conversations))
		})

		r.Post("/recall", handleRecall(d.Messages))

		r.Route("/messages", func(r chi.Router) {
			r.Post("/read", handleMarkRead(d.Messages))
			r.Get("/unread", handleUnread(d.Messages, d.Conversations))
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", handleListSessions(d.Conversations))
			r.Post("/{sessionID}/clear", handleClearSession(d.Conversations))
		})

		if d.Files != nil {
			r.Mount("/uploads", UploadRoutes(d.Files))
		}
	})

	return r
}

// accessLog writes one line per request through the request-scoped logger.
func accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}
