package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/cache"
	"github.com/snaredev/snare/config"
	"github.com/snaredev/snare/extract"
	"github.com/snaredev/snare/models"
	"github.com/snaredev/snare/ratelimit"
	"github.com/snaredev/snare/scheduler"
	"github.com/snaredev/snare/scraper"
)

type fakeConn struct{}

func (fakeConn) Probe(ctx context.Context) error { return nil }
func (fakeConn) Close() error                    { return nil }

type stubNav struct {
	snap *scraper.Snapshot
	err  error
}

func (s *stubNav) Navigate(ctx context.Context, sess *browser.Session, req *models.ScrapeRequest, progress func(models.TaskState)) (*scraper.Snapshot, error) {
	return s.snap, s.err
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, req *models.ScrapeRequest) (*scraper.Snapshot, error) {
	return nil, models.NewScrapeError(models.ErrKindNetworkError, "not wired in this test", nil)
}

func newTestRouter(t *testing.T, nav scheduler.Navigator, cc *cache.Cache) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool := browser.NewPool(config.PoolConfig{
		Capacity:       2,
		AcquireTimeout: 500 * time.Millisecond,
		MaxSessionUses: 100,
		MaxSessionAge:  time.Hour,
		ShutdownGrace:  50 * time.Millisecond,
	}, func(ctx context.Context) (browser.Conn, error) { return fakeConn{}, nil })

	limiter := ratelimit.New(config.RateLimitConfig{
		PerDomainRate: 1000, PerDomainBurst: 1000, GlobalRate: 1000, GlobalBurst: 1000,
	})

	sched := scheduler.New(config.SchedulerConfig{
		QueueCapacity: 8,
		Workers:       2,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
		MaxRetriesCap: 3,
	}, config.ScraperConfig{ExtractionBudget: time.Second},
		pool, limiter, nav, stubFetcher{}, extract.NewPipeline())
	sched.Start()

	t.Cleanup(func() {
		sched.Stop()
		limiter.Stop()
		pool.Shutdown()
	})

	r := gin.New()
	r.POST("/scrape", Scrape(sched, cc))
	r.GET("/health", Health(pool, sched, time.Now()))
	return r
}

func postScrape(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/scrape", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const goodBody = `{
  "url": "https://example.com/widget",
  "rules": [{"name": "heading", "selector": "h1", "type": "text"}]
}`

func successNav() *stubNav {
	return &stubNav{snap: &scraper.Snapshot{
		HTML:       `<html><head><title>Shop</title></head><body><h1>Deluxe Widget</h1></body></html>`,
		Title:      "Shop",
		FinalURL:   "https://example.com/widget",
		StatusCode: 200,
	}}
}

func TestScrapeHandler_Success(t *testing.T) {
	r := newTestRouter(t, successNav(), nil)

	w := postScrape(r, goodBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}

	var resp models.ScrapeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", resp.Status)
	}
	if resp.Fields["heading"] != "Deluxe Widget" {
		t.Errorf("heading = %v, want Deluxe Widget", resp.Fields["heading"])
	}
}

func TestScrapeHandler_MalformedJSON(t *testing.T) {
	r := newTestRouter(t, successNav(), nil)

	w := postScrape(r, `{"url": `)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestScrapeHandler_ValidationError(t *testing.T) {
	r := newTestRouter(t, successNav(), nil)

	w := postScrape(r, `{
	  "url": "https://example.com/",
	  "rules": [{"name": "x", "selector": "div[", "type": "text"}]
	}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body: %s)", w.Code, w.Body.String())
	}

	var resp models.ScrapeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Kind != models.ErrKindInvalidRequest {
		t.Errorf("error = %+v, want INVALID_REQUEST", resp.Error)
	}
}

func TestScrapeHandler_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		kind string
		want int
	}{
		{models.ErrKindNavigationTimeout, http.StatusGatewayTimeout},
		{models.ErrKindNetworkError, http.StatusBadGateway},
		{models.ErrKindBrowserCrash, http.StatusBadGateway},
		{models.ErrKindPoolExhausted, http.StatusServiceUnavailable},
		{models.ErrKindExtractionError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			nav := &stubNav{err: models.NewScrapeError(tt.kind, "boom", nil)}
			r := newTestRouter(t, nav, nil)

			// max_retries 0 keeps retryable kinds to a single attempt.
			w := postScrape(r, `{
			  "url": "https://example.com/",
			  "rules": [{"name": "x", "selector": "h1"}],
			  "options": {"max_retries": 0}
			}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestScrapeHandler_CacheHit(t *testing.T) {
	cc := cache.New(10)
	t.Cleanup(cc.Stop)
	r := newTestRouter(t, successNav(), cc)

	body := `{
	  "url": "https://example.com/widget",
	  "rules": [{"name": "heading", "selector": "h1", "type": "text"}],
	  "options": {"max_age": 60000}
	}`

	w1 := postScrape(r, body)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d (body: %s)", w1.Code, w1.Body.String())
	}
	var first models.ScrapeResponse
	json.Unmarshal(w1.Body.Bytes(), &first)
	if first.CacheStatus != "miss" {
		t.Errorf("first cache_status = %q, want miss", first.CacheStatus)
	}

	w2 := postScrape(r, body)
	var second models.ScrapeResponse
	json.Unmarshal(w2.Body.Bytes(), &second)
	if second.CacheStatus != "hit" {
		t.Errorf("second cache_status = %q, want hit", second.CacheStatus)
	}
	if second.Fields["heading"] != "Deluxe Widget" {
		t.Errorf("cached heading = %v, want Deluxe Widget", second.Fields["heading"])
	}
}

func TestHealthHandler(t *testing.T) {
	r := newTestRouter(t, successNav(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad health JSON: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Pool.Capacity != 2 {
		t.Errorf("pool capacity = %d, want 2", resp.Pool.Capacity)
	}
	if resp.Queue.Capacity != 8 {
		t.Errorf("queue capacity = %d, want 8", resp.Queue.Capacity)
	}
}
