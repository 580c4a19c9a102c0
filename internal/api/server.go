// internal/api/server.go
// HTTP API server over the fetch/history/score pipeline.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"brickradar/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the aggregation pipeline over HTTP.
type Server struct {
	router      *gin.Engine
	svc         *service.Service
	logger      *slog.Logger
	server      *http.Server
	adminAPIKey string
	windowDays  int
}

// Config holds server settings.
type Config struct {
	Addr         string        // listen address (e.g. ":8080")
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
	EnableCORS   bool
	AdminAPIKey  string // admin API key (empty disables auth)
	WindowDays   int    // default rolling history window
}

// DefaultConfig returns the default server settings.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		Debug:        false,
		EnableCORS:   false,
		WindowDays:   7,
	}
}

// NewServer creates the API server.
func NewServer(svc *service.Service, logger *slog.Logger, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	if cfg.EnableCORS {
		router.Use(corsMiddleware())
	}

	s := &Server{
		router:      router,
		svc:         svc,
		logger:      logger,
		adminAPIKey: cfg.AdminAPIKey,
		windowDays:  cfg.WindowDays,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)

		v1.POST("/fetch/:source", s.fetchSource)
		v1.POST("/scores", s.computeScores)
		v1.GET("/history/:source", s.getHistory)

		// Mutating admin surface: history and cache wipes.
		admin := v1.Group("")
		admin.Use(s.apiKeyMiddleware())
		{
			admin.DELETE("/history", s.clearHistory)
			admin.DELETE("/cache", s.clearCache)
		}
	}
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("starting API server", slog.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// apiKeyMiddleware guards mutating admin routes. An empty configured key
// disables the check.
func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminAPIKey == "" {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, Response{Code: 401, Message: "missing API key"})
			c.Abort()
			return
		}
		if apiKey != s.adminAPIKey {
			c.JSON(http.StatusUnauthorized, Response{Code: 401, Message: "invalid API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Response is the unified response envelope.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: 400, Message: message, Kind: "bad_request"})
}

// storageError reports a persistence failure. Distinct from upstream
// warnings, which ride inside a successful batch response.
func storageError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: err.Error(), Kind: "storage"})
}
