package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/snaredev/snare/cache"
	"github.com/snaredev/snare/models"
	"github.com/snaredev/snare/scheduler"
)

// Scrape returns a handler for POST /api/v1/scrape.
//
// Flow:
//  1. Parse request; structural defaults and validation happen at Submit.
//  2. Cache lookup when max_age is set.
//  3. Scheduler.Scrape — enqueue, wait for the terminal result.
//  4. Map the result (or the admission error) to an HTTP status.
func Scrape(sched *scheduler.Scheduler, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Status: models.StatusFailed,
				Error: &models.ErrorDetail{
					Kind:    models.ErrKindInvalidRequest,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		var cacheKey string
		if cc != nil && req.Options.MaxAge > 0 {
			cacheKey = cache.Key(&req)
			if cached, hit := cc.Get(cacheKey, req.Options.MaxAge); hit {
				out := *cached
				out.CacheStatus = "hit"
				out.Timing.TotalMs = time.Since(totalStart).Milliseconds()
				c.JSON(http.StatusOK, out)
				return
			}
		}

		resp, err := sched.Scrape(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs: time.Since(totalStart).Milliseconds(),
			})
			return
		}

		if resp.Status == models.StatusFailed {
			c.JSON(statusForKind(resp.Error.Kind), resp)
			return
		}

		if cacheKey != "" && resp.Status == models.StatusSuccess {
			cc.Set(cacheKey, resp)
			resp.CacheStatus = "miss"
		}

		c.JSON(http.StatusOK, resp)
	}
}

// respondError maps an admission or transport error to an HTTP response.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	se := models.AsScrapeError(err)
	c.JSON(statusForKind(se.Kind), models.ScrapeResponse{
		Status: models.StatusFailed,
		Error:  se.ToDetail(),
		Timing: timing,
	})
}

// statusForKind translates error kinds to HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case models.ErrKindInvalidRequest:
		return http.StatusBadRequest // 400
	case models.ErrKindUnauthorized, models.ErrKindLLMAuthFailure:
		return http.StatusUnauthorized // 401
	case models.ErrKindRateLimited, models.ErrKindQueueSaturated, models.ErrKindLLMRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrKindNetworkError, models.ErrKindBrowserCrash, models.ErrKindLLMFailure:
		return http.StatusBadGateway // 502
	case models.ErrKindPoolExhausted:
		return http.StatusServiceUnavailable // 503
	case models.ErrKindNavigationTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}
