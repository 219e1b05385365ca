// Package server exposes the research service over a local HTTP API with a
// WebSocket state stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"agentstudio/internal/artifact"
	"agentstudio/internal/browseruse"
	"agentstudio/internal/config"
	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
	"agentstudio/internal/taskstate"
	"agentstudio/internal/tasktemplate"
)

// ResearchService is what the HTTP layer drives.
type ResearchService interface {
	StartResearch(ctx context.Context, req browseruse.StartRequest) (string, error)
	Snapshot() taskstate.State
	Subscribe(buffer int) <-chan taskstate.State
	Unsubscribe(ch <-chan taskstate.State)
	ResolveScreenshot(ctx context.Context, stepID string) (artifact.Resolution, error)
	ReprobeScreenshot(ctx context.Context, stepID string) (artifact.Resolution, error)
	DownloadFile(ctx context.Context, fileName string) (string, error)
	ResetTask()
	Templates() []tasktemplate.Template
	App() tasktemplate.AppInfo
}

// Config configures the HTTP server.
type Config struct {
	Host            string
	Port            int
	CORSOrigins     []string
	StartsPerMinute int
	Debug           bool
	Version         string
}

// ConfigFrom maps application configuration onto server settings.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CORSOrigins:     cfg.Server.CORSOrigins,
		StartsPerMinute: 10,
		Version:         cfg.Observability.Tracing.ServiceVersion,
	}
}

// Server serves the local API.
type Server struct {
	service ResearchService
	config  Config

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider

	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option customises a Server.
type Option func(*Server)

func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

func WithMetrics(m *observability.MetricsCollector) Option {
	return func(s *Server) { s.metrics = m }
}

func WithTracer(tp *observability.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp
		}
	}
}

// New builds the server and its routes. It does not start listening.
func New(service ResearchService, cfg Config, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("server requires a research service")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultServerPort
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		service: service,
		config:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.CORSOrigins),
		},
		logger:    logging.NewComponentLogger("server"),
		tracer:    observability.NoopTracer(),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestMiddleware(s.tracer, s.logger))
	engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if allowsAnyOrigin(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "X-Requested-With"}
	cfg.AllowWebSockets = true
	return cfg
}

func allowsAnyOrigin(origins []string) bool {
	return len(origins) == 0 || slices.Contains(origins, "*")
}

// originChecker applies the CORS allow-list to WebSocket handshakes. Requests
// without an Origin header come from non-browser clients and are accepted.
func originChecker(origins []string) func(r *http.Request) bool {
	if allowsAnyOrigin(origins) {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.engine.Group("/api")
	api.POST("/research", rateLimitMiddleware(s.config.StartsPerMinute), s.handleStartResearch)
	api.GET("/templates", s.handleTemplates)

	t := api.Group("/task")
	{
		t.GET("", s.handleGetTask)
		t.GET("/stream", s.handleStream)
		t.GET("/steps/:stepId/screenshot", s.handleScreenshot)
		t.GET("/files/:fileName", s.handleFile)
		t.POST("/reset", s.handleReset)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting %s API on %s", s.service.App().Name, s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop closes streams and shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server...")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("Error shutting down HTTP server: %v", err)
		return err
	}
	s.wg.Wait()
	s.logger.Info("API server stopped")
	return nil
}
