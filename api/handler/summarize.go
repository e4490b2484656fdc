package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/snaredev/snare/llm"
	"github.com/snaredev/snare/models"
	"github.com/snaredev/snare/scheduler"
)

// Summarize returns a handler for POST /api/v1/summarize.
//
// The page is scraped through the normal pipeline with main-content
// extraction forced on, then the content is sent to the caller's LLM
// (bring-your-own-key) for a structured summary.
func Summarize(sched *scheduler.Scheduler, llmClient *llm.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.SummarizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.SummarizeResponse{
				Error: &models.ErrorDetail{
					Kind:    models.ErrKindInvalidRequest,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		scrapeReq := &models.ScrapeRequest{
			URL: req.URL,
			Rules: []models.ExtractionRule{
				{Name: "title", Selector: "title", Type: models.RuleTypeText},
			},
			Options: req.Options,
		}
		scrapeReq.Options.IncludeContent = true

		resp, err := sched.Scrape(c.Request.Context(), scrapeReq)
		if err != nil {
			respondSummarizeError(c, err, totalStart)
			return
		}
		if resp.Status == models.StatusFailed {
			c.JSON(statusForKind(resp.Error.Kind), models.SummarizeResponse{
				Meta:   resp.Meta,
				Timing: resp.Timing,
				Error:  resp.Error,
			})
			return
		}
		if resp.Content == "" {
			c.JSON(http.StatusBadGateway, models.SummarizeResponse{
				Meta: resp.Meta,
				Error: &models.ErrorDetail{
					Kind:    models.ErrKindExtractionError,
					Message: "no readable content found on the page",
				},
			})
			return
		}

		result, err := llmClient.Summarize(c.Request.Context(), resp.Content, llm.SummarizeParams{
			APIKey:  req.LLMAPIKey,
			Model:   req.LLMModel,
			BaseURL: req.LLMBaseURL,
		})
		if err != nil {
			respondSummarizeError(c, err, totalStart)
			return
		}

		c.JSON(http.StatusOK, models.SummarizeResponse{
			Success: true,
			Summary: result.Summary,
			Meta:    resp.Meta,
			Timing: models.TimingInfo{
				TotalMs:      time.Since(totalStart).Milliseconds(),
				NavigationMs: resp.Timing.NavigationMs,
				ExtractionMs: resp.Timing.ExtractionMs,
			},
			LLMUsage: result.Usage,
		})
	}
}

func respondSummarizeError(c *gin.Context, err error, totalStart time.Time) {
	se := models.AsScrapeError(err)
	c.JSON(statusForKind(se.Kind), models.SummarizeResponse{
		Error: se.ToDetail(),
		Timing: models.TimingInfo{
			TotalMs: time.Since(totalStart).Milliseconds(),
		},
	})
}
