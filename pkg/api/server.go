// Package api is the operational HTTP surface: liveness, readiness,
// component statistics, and Prometheus metrics. It exposes nothing from
// the event path itself; handlers only read component snapshots.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MLidstrom/Castellan-sub013/pkg/collector"
	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/correlation"
	"github.com/MLidstrom/Castellan-sub013/pkg/embed"
	"github.com/MLidstrom/Castellan-sub013/pkg/llm"
	"github.com/MLidstrom/Castellan-sub013/pkg/notify"
	"github.com/MLidstrom/Castellan-sub013/pkg/pipeline"
	"github.com/MLidstrom/Castellan-sub013/pkg/retriever"
	"github.com/MLidstrom/Castellan-sub013/pkg/vectorstore"
)

// checkTimeout bounds the dependency probes behind /ready.
const checkTimeout = 5 * time.Second

// Components are the pipeline pieces the server reports on. Any field may
// be nil; its section is then omitted from responses.
type Components struct {
	Pipeline  *pipeline.Pipeline
	Collector *collector.Collector
	Cache     *embed.CachedEmbedder
	Retriever *retriever.Hybrid
	Chain     *llm.Chain
	Detector  *correlation.Detector
	Notifier  *notify.Manager
	Store     vectorstore.Store
}

// Server serves the operational endpoints over one http.Server.
type Server struct {
	components Components
	router     *gin.Engine
	http       *http.Server
	logger     *slog.Logger
}

// NewServer wires the routes. Call Start to begin serving.
func NewServer(cfg *config.OpsConfig, components Components) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		components: components,
		logger:     slog.With("component", "api"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger), securityHeaders())

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readyHandler)
	router.GET("/api/v1/stats", s.statsHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called. A clean shutdown returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("Ops server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
