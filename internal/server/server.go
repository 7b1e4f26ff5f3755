package server

import (
	"context"
	"fmt"
	"net/http"

	"FleetAlertEngine/internal/config"
	"FleetAlertEngine/internal/handler"
	"FleetAlertEngine/internal/middleware"
	"FleetAlertEngine/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouteContributor lets protocol adapters that ride the shared listener
// mount their ingestion endpoints.
type RouteContributor interface {
	RegisterRoutes(r *mux.Router)
}

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	log        *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) *Server {
	router := mux.NewRouter()

	server := &Server{
		router: router,
		cfg:    cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}

	return server
}

func (s *Server) RegisterHandlers(
	alarmHandler *handler.AlarmHandler,
	ruleHandler *handler.RuleHandler,
	healthHandler *handler.HealthHandler,
	hub *websocket.Hub,
	registry *prometheus.Registry,
	ingest ...RouteContributor,
) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.Use(middleware.RequestLogger(s.log))
	api.Use(middleware.CORS(s.cfg.Security.CORSAllowedOrigins, s.cfg.Security.CORSAllowedMethods))
	api.Use(middleware.Recovery(s.log))

	if s.cfg.Security.EnableRateLimit {
		api.Use(middleware.RateLimit(s.cfg.Security.RateLimitPerMinute))
	}

	alarmHandler.RegisterRoutes(api)
	ruleHandler.RegisterRoutes(api)
	for _, contributor := range ingest {
		contributor.RegisterRoutes(api)
	}
	healthHandler.RegisterRoutes(s.router)

	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/ws/alerts", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, w, r, s.log)
	})

	s.log.Info("all handlers registered")
}

func (s *Server) Start() error {
	s.log.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}
