package shift

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/shiftctl/internal/migration"
	"github.com/danmuck/shiftctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func (s *Service) buildRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.cfg.RunID, log.Logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.RunID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s.registerRoutes(r)
	return r
}

func (s *Service) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"run":     s.cfg.RunID,
			"version": "0.1.0",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		state, _, err := s.store.Read(c.Request.Context())
		ready := err == nil && state.Phase != migration.PhaseInitializing
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ready,
			"uptime": time.Since(s.appeared).String(),
			"run":    s.cfg.RunID,
		})
	})

	r.GET("/migration", func(c *gin.Context) {
		state, version, err := s.store.Read(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"run":     s.cfg.RunID,
			"version": version,
			"state":   state,
		})
	})

	r.POST("/migration/abort", func(c *gin.Context) {
		first := s.Abort()
		state, _, err := s.store.Read(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusAccepted, gin.H{"aborting": true, "first_request": first})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"aborting":      true,
			"first_request": first,
			"phase":         state.Phase,
		})
	})

	r.GET("/migration/audit", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{
			"run":    s.cfg.RunID,
			"events": s.AuditEvents(limit),
		})
	})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost", "http://127.0.0.1"}
	}
	return origins
}
