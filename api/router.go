// Package api wires the HTTP surface: routing, auth, API-level rate
// limiting and the JSON contract over the scheduler.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/snaredev/snare/api/handler"
	"github.com/snaredev/snare/api/middleware"
	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/cache"
	"github.com/snaredev/snare/config"
	"github.com/snaredev/snare/llm"
	"github.com/snaredev/snare/scheduler"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if keys configured) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(sched *scheduler.Scheduler, pool *browser.Pool, llmClient *llm.Client,
	cfg *config.Config, cc *cache.Cache, startTime time.Time) *gin.Engine {

	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(pool, sched, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	protected.Use(middleware.RateLimit(cfg.APILimit))

	protected.POST("/scrape", handler.Scrape(sched, cc))
	protected.POST("/summarize", handler.Summarize(sched, llmClient))

	return r
}
