package server

import (
	"crypto/subtle"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meetpay/meetpay/internal/config"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/observability/logger"
	"github.com/meetpay/meetpay/internal/observability/metrics"
	"github.com/meetpay/meetpay/internal/settlement"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server carries the HTTP handlers and their dependencies.
type Server struct {
	cfg           config.Config
	log           *zap.Logger
	meetingSvc    *meeting.Service
	ledgerSvc     *ledger.Service
	settlementSvc *settlement.Service
	settleLimiter *rateLimiter
}

// NewServer builds the server.
func NewServer(cfg config.Config, log *zap.Logger, meetingSvc *meeting.Service, ledgerSvc *ledger.Service, settlementSvc *settlement.Service) *Server {
	return &Server{
		cfg:           cfg,
		log:           log.Named("server"),
		meetingSvc:    meetingSvc,
		ledgerSvc:     ledgerSvc,
		settlementSvc: settlementSvc,
		settleLimiter: newRateLimiter(10, time.Minute),
	}
}

// Router assembles the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(metrics.GinMiddleware(metrics.HTTP(metrics.Config{
		ServiceName: "meetpay",
		Environment: s.cfg.Environment,
	})))

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/meetings", s.CreateMeeting)
		api.GET("/meetings/:meetingId", s.GetMeeting)
		api.PUT("/meetings/:meetingId", s.UpdateMeeting)
		api.GET("/owners/:ownerId/meetings", s.ListMeetingsByOwner)
		api.POST("/owners/:ownerId/ledger", s.CreateLedger)
		api.GET("/owners/:ownerId/ledger", s.GetLedgerByOwner)
		api.DELETE("/owners/:ownerId/ledger", s.OrphanLedger)
	}

	admin := r.Group("/admin/api", s.adminAuth)
	{
		admin.POST("/meetings/:meetingId/settle", s.rateLimitSettle, s.Settle)
	}

	return r
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// adminAuth requires the configured admin token. With no token configured
// the admin surface is disabled entirely.
func (s *Server) adminAuth(c *gin.Context) {
	token := s.cfg.AdminToken
	if token == "" {
		AbortWithError(c, unauthorizedError())
		return
	}
	presented := c.GetHeader("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		AbortWithError(c, unauthorizedError())
		return
	}
	c.Next()
}

func (s *Server) rateLimitSettle(c *gin.Context) {
	if !s.settleLimiter.Allow(c.ClientIP()) {
		AbortWithError(c, rateLimitedError())
		return
	}
	c.Next()
}
