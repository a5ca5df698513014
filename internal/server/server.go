// Package server provides the HTTP server and routing for swingbot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/models"
	tradinghandlers "github.com/aristath/swingbot/internal/modules/trading/handlers"
)

// ModelProvider hands out per-request model snapshots
type ModelProvider interface {
	Get(ctx context.Context, strategy domain.Strategy) (*models.Loaded, error)
	Ready() map[domain.Strategy]bool
}

// VersionReader is the read side of the model registry
type VersionReader interface {
	List(strategy domain.Strategy) ([]domain.ModelVersion, error)
	Performance(strategy domain.Strategy, sinceVersion *int) (domain.Performance, error)
}

// Config holds server configuration
type Config struct {
	Log             zerolog.Logger
	Port            int
	DevMode         bool
	Models          ModelProvider
	Market          domain.MarketData
	Registry        VersionReader
	Trades          tradinghandlers.TradeHistory
	Events          EventSource // nil outside the trading process
	DefaultStrategy domain.Strategy
	Period          string // default market data window for /predict
	MinRows         int
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       Config
	startedAt time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = domain.StrategySortino
	}
	if cfg.Period == "" {
		cfg.Period = "1mo"
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = 15
	}

	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.DevMode)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// The dashboard calls /predict cross-origin
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes. The event stream is long-lived and sits outside
// the request timeout and compression.
func (s *Server) setupRoutes(devMode bool) {
	s.router.Get("/events/stream", s.handleEventStream)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !devMode {
			r.Use(middleware.Compress(5))
		}

		r.Get("/health", s.handleHealth)
		r.Post("/predict", s.handlePredict)
		r.Get("/status", s.handleStatus)

		r.Route("/api", func(r chi.Router) {
			r.Get("/versions", s.handleVersions)
			r.Get("/performance", s.handlePerformance)

			if s.cfg.Trades != nil {
				tradinghandlers.NewTradingHandlers(s.cfg.Trades, s.log).RegisterRoutes(r)
			}
		})
	})
}

// Handler exposes the router, mainly for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

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
