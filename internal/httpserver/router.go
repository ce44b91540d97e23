package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ironwill/internal/handler"
	"ironwill/pkg/otel"
	"ironwill/pkg/rbac"
)

// ReadinessCheck returns nil when the dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Logs       *handler.LogHandler
	Challenges *handler.ChallengeHandler
	Stats      *handler.StatsHandler
	Realtime   *handler.RealtimeHandler
	Admin      *handler.AdminHandler // nil disables /admin
	JWTSecret  string
	Readiness  []ReadinessCheck
	Logger     *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(RequestLogger(d.Logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for _, rc := range d.Readiness {
			if err := rc.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": rc.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(d.JWTSecret))
	{
		read := auth.Group("/", RequirePermission(rbac.PermissionReadLog))
		read.GET("/logs/today", d.Logs.Today)
		read.GET("/logs", d.Logs.List)
		read.GET("/logs/:id", d.Logs.Get)
		read.GET("/challenges/active", d.Challenges.Active)
		if d.Realtime != nil {
			read.GET("/ws", d.Realtime.Subscribe)
		}

		write := auth.Group("/", RequirePermission(rbac.PermissionWriteLog))
		write.POST("/logs", d.Logs.Upsert)
		write.DELETE("/logs/:id", d.Logs.Delete)

		stats := auth.Group("/", RequirePermission(rbac.PermissionReadStats))
		stats.GET("/stats", d.Stats.Get)
		stats.GET("/achievements", d.Stats.Achievements)
	}

	if d.Admin != nil {
		admin := auth.Group("/admin")
		admin.POST("/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), d.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), d.Admin.ReplayFailedEvents)
		admin.POST("/stats/recompute", RequirePermission(rbac.PermissionRecomputeStats), d.Admin.RecomputeStats)
	}

	return r
}
