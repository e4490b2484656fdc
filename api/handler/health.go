package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/models"
	"github.com/snaredev/snare/scheduler"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports pool and queue occupancy; degrades status when more than 80%
// of sessions are busy or the intake queue is more than 80% full.
func Health(pool *browser.Pool, sched *scheduler.Scheduler, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ps := pool.Stats()
		qs := sched.Stats()

		status := "healthy"
		if ps.Capacity > 0 && ps.Busy > int(float64(ps.Capacity)*0.8) {
			status = "degraded"
		}
		if qs.Capacity > 0 && qs.Depth > int(float64(qs.Capacity)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Pool:    ps,
			Queue:   qs,
			Version: "0.1.0",
		})
	}
}
