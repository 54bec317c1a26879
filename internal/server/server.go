// Package server assembles the HTTP router: middleware, rate limits, the
// public surface, and the authenticated module mounts.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/auth"
	alertshandlers "github.com/aristath/moneta/internal/modules/alerts/handlers"
	assetshandlers "github.com/aristath/moneta/internal/modules/assets/handlers"
	billinghandlers "github.com/aristath/moneta/internal/modules/billing/handlers"
	forecastinghandlers "github.com/aristath/moneta/internal/modules/forecasting/handlers"
	insightshandlers "github.com/aristath/moneta/internal/modules/insights/handlers"
	insurancehandlers "github.com/aristath/moneta/internal/modules/insurance/handlers"
	networthhandlers "github.com/aristath/moneta/internal/modules/networth/handlers"
	plaidhandlers "github.com/aristath/moneta/internal/modules/plaid/handlers"
	subscriptionshandlers "github.com/aristath/moneta/internal/modules/subscriptions/handlers"
	synchandlers "github.com/aristath/moneta/internal/modules/sync/handlers"
	uploadhandlers "github.com/aristath/moneta/internal/modules/upload/handlers"
	"github.com/aristath/moneta/internal/system"
)

const (
	globalRateLimit = 200
	authRateLimit   = 20
	rateWindow      = 15 * time.Minute
)

// Handlers bundles every mounted module
type Handlers struct {
	Auth          *auth.Handler
	Tokens        *auth.TokenService
	Assets        *assetshandlers.Handler
	Insurance     *insurancehandlers.Handler
	NetWorth      *networthhandlers.Handler
	Forecasting   *forecastinghandlers.Handler
	Insights      *insightshandlers.Handler
	Subscriptions *subscriptionshandlers.Handler
	Alerts        *alertshandlers.Handler
	Plaid         *plaidhandlers.Handler
	Sync          *synchandlers.Handler
	Upload        *uploadhandlers.Handler
	Billing       *billinghandlers.Handler
	System        *system.Handler
}

// Config holds server configuration
type Config struct {
	Port     int
	AppURL   string
	DevMode  bool
	Log      zerolog.Logger
	Handlers Handlers
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(cfg.Handlers)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(cfg Config) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	origins := []string{cfg.AppURL}
	if cfg.DevMode {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Use(httprate.LimitByIP(globalRateLimit, rateWindow))
}

func (s *Server) setupRoutes(h Handlers) {
	s.router.Get("/health", h.System.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Public surface
		r.Group(func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				r.Use(httprate.LimitByIP(authRateLimit, rateWindow))
				h.Auth.RegisterRoutes(r)
				r.Group(func(r chi.Router) {
					r.Use(auth.Middleware(h.Tokens))
					h.Auth.RegisterProtectedRoutes(r)
				})
			})
			r.Route("/billing", func(r chi.Router) {
				h.Billing.RegisterRoutes(r)
			})
			r.Post("/plaid/webhook", h.Plaid.HandleWebhook)
		})

		// Everything else requires a valid access token
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.Tokens))

			r.Route("/assets", func(r chi.Router) { h.Assets.RegisterRoutes(r) })
			r.Route("/insurance", func(r chi.Router) { h.Insurance.RegisterRoutes(r) })
			r.Route("/networth", func(r chi.Router) { h.NetWorth.RegisterRoutes(r) })
			r.Route("/forecasting", func(r chi.Router) { h.Forecasting.RegisterRoutes(r) })
			r.Route("/insights", func(r chi.Router) { h.Insights.RegisterRoutes(r) })
			r.Route("/subscriptions", func(r chi.Router) { h.Subscriptions.RegisterRoutes(r) })
			r.Route("/alerts", func(r chi.Router) { h.Alerts.RegisterRoutes(r) })
			r.Route("/plaid", func(r chi.Router) { h.Plaid.RegisterRoutes(r) })
			r.Route("/sync", func(r chi.Router) { h.Sync.RegisterRoutes(r) })
			r.Route("/upload", func(r chi.Router) { h.Upload.RegisterRoutes(r) })
			r.Route("/system", func(r chi.Router) { h.System.RegisterRoutes(r) })
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
