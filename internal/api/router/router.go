package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/http/handlers"
	httpmiddleware "github.com/Nabil201-ctrl/Healify-sub000/internal/http/middleware"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger             *logging.Logger
	AuthSecret         string
	CORSAllowedOrigins []string
	ChatRateLimiter    *httpmiddleware.RateLimiter

	Chat    *handlers.ChatHandler
	Review  *handlers.ReviewHandler
	Sync    *handlers.SyncHandler
	Health  http.Handler
	Metrics http.Handler
}

// New creates the API router.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Handle("/health", cfg.Health)
		}
		if cfg.Metrics != nil {
			public.Handle("/metrics", cfg.Metrics)
		}
	})

	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.Auth(cfg.AuthSecret))

		if cfg.Chat != nil {
			send := http.Handler(http.HandlerFunc(cfg.Chat.Send))
			if cfg.ChatRateLimiter != nil {
				send = httpmiddleware.RateLimit(cfg.ChatRateLimiter)(send)
			}
			authed.Method(http.MethodPost, "/chat/send", send)
			authed.Get("/chat/session/{id}", cfg.Chat.Session)
			authed.Post("/bookmark/{sessionId}", cfg.Chat.Bookmark)
		}
		if cfg.Sync != nil {
			authed.Post("/health/sync", cfg.Sync.Sync)
		}
		if cfg.Review != nil {
			authed.Route("/doctor", func(doctor chi.Router) {
				doctor.Use(httpmiddleware.RequireReviewer)
				doctor.Get("/review-queue", cfg.Review.Queue)
				doctor.Post("/assign/{sessionId}", cfg.Review.Assign)
				doctor.Post("/complete-review/{sessionId}", cfg.Review.Complete)
				doctor.Post("/message/{sessionId}", cfg.Review.Message)
				doctor.Get("/patient-health/{sessionId}", cfg.Review.PatientHealth)
				doctor.Post("/archive/{sessionId}", cfg.Review.Archive)
			})
		}
	})

	return r
}
