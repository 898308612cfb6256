package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"smartbuilding/api/middleware"
	"smartbuilding/internal/alert"
	"smartbuilding/internal/config"
	"smartbuilding/internal/health"
	"smartbuilding/internal/monitor"
	"smartbuilding/internal/realtime"
	"smartbuilding/internal/telemetry"
)

// Poller is the part of the monitor service the API drives.
type Poller interface {
	Connect() int
	Disconnect() int
	Subscribers() int
	TestRule(ctx context.Context, id uint) (*monitor.TestResult, error)
	DashboardStats(ctx context.Context) *telemetry.DashboardStats
}

type Deps struct {
	Rules         alert.Store
	Poller        Poller
	Hub           *realtime.Hub
	Health        *health.Registry
	TriggerLogDir string
}

type Server struct {
	router      *gin.Engine
	deps        Deps
	configPath  string
	config      *config.Config
	log         *zap.Logger
	stopLimiter func()

	keepAlive time.Duration
}

func NewServer(cfg *config.Config, configPath string, deps Deps, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(log), middleware.Observe(log))

	s := &Server{
		router:     router,
		deps:       deps,
		configPath: configPath,
		config:     cfg,
		log:        log,
		keepAlive:  15 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	limiter, stop := middleware.RateLimit(s.config.RateLimit)
	s.stopLimiter = stop

	api := s.router.Group("/api/v1")
	api.Use(limiter)

	// 实时推送是长连接, 不受请求超时限制
	api.GET("/realtime/stream", s.stream)

	timed := api.Group("")
	timed.Use(middleware.Timeout(time.Duration(s.config.Server.RequestTimeout) * time.Second))
	{
		// Alert Rules - using POST
		timed.POST("/alert/rule/add", s.addAlertRule)
		timed.POST("/alert/rule/list", s.listAlertRules)
		timed.POST("/alert/rule/get", s.getAlertRule)
		timed.POST("/alert/rule/update", s.updateAlertRule)
		timed.POST("/alert/rule/remove", s.removeAlertRule)
		timed.POST("/alert/rule/toggle", s.toggleAlertRule)
		timed.POST("/alert/rule/test", s.testAlertRule)
		timed.POST("/alert/rule/stats", s.alertRuleStats)
		timed.POST("/alert/rule/template", s.alertRuleTemplate)
		timed.POST("/alert/rule/history", s.alertRuleHistory)

		timed.POST("/alert/log/query", s.queryTriggerLogs)
		timed.POST("/stats/dashboard", s.dashboardStats)

		// System Configuration
		timed.GET("/config", s.getConfig)
		timed.POST("/config", s.updateConfig)
		timed.POST("/config/restart", s.restartService)
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the rate limiter.
func (s *Server) Close() {
	if s.stopLimiter != nil {
		s.stopLimiter()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.OverallOK})
		return
	}
	report := s.deps.Health.Run(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.OverallDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// fail maps store and poller errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case alert.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, alert.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, alert.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, monitor.ErrSourceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
