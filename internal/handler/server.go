package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/config"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/view"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// Server HTTP сервер API карты
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	logger      *utils.Logger
	config      *config.Config
	hub         *view.Hub
	restHandler *RESTHandler
	wsHandler   *WebSocketHandler
	started     time.Time
}

// NewServer создает новый HTTP сервер
func NewServer(cfg *config.Config, hub *view.Hub, logger *utils.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	router.Use(SecurityHeadersMiddleware())
	if cfg.Monitoring.MetricsEnabled {
		router.Use(metrics.HTTPMetricsMiddleware())
	}

	server := &Server{
		router:      router,
		logger:      logger,
		config:      cfg,
		hub:         hub,
		restHandler: NewRESTHandler(hub, logger),
		wsHandler:   NewWebSocketHandler(hub, logger),
		started:     time.Now(),
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.config.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authMiddleware := auth.NewMiddleware(s.logger)

	v1 := s.router.Group("/api/v1")
	v1.Use(authMiddleware.RequireToken())
	{
		v1.POST("/views", s.restHandler.CreateView)

		views := v1.Group("/views/:id")
		{
			views.GET("", s.restHandler.GetView)
			views.DELETE("", s.restHandler.DeleteView)
			views.POST("/reload", s.restHandler.ReloadView)

			views.GET("/regions", s.restHandler.GetRegions)
			views.GET("/aggregate", s.restHandler.GetAggregate)
			views.GET("/legend", s.restHandler.GetLegend)
			views.GET("/bounds", s.restHandler.GetBounds)
			views.GET("/sidebar", s.restHandler.GetSidebar)
			views.GET("/sidebar.xlsx", s.restHandler.ExportSidebar)
			views.GET("/summary", s.restHandler.GetSummary)

			views.GET("/state", s.restHandler.GetState)
			views.POST("/events", s.restHandler.PostEvent)
		}
	}

	// Браузер не передает заголовки при upgrade: токен в ?token=
	ws := s.router.Group("/ws/v1")
	ws.Use(authMiddleware.RequireToken())
	ws.GET("/views/:id", s.wsHandler.HandleWebSocket)
}

// Router возвращает gin router (для тестов)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown корректное завершение сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"views":          s.hub.Len(),
	})
}

// ==================== Middleware ====================

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		entry := logger.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP request failed")
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			entry.Debug("HTTP request completed")
		default:
			entry.Info("HTTP request completed")
		}
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

// RateLimitMiddleware ограничение частоты запросов на весь API
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limit_exceeded",
				"message": "Too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware заголовки безопасности
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
