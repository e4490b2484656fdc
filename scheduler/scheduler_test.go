package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/config"
	"github.com/snaredev/snare/extract"
	"github.com/snaredev/snare/models"
	"github.com/snaredev/snare/ratelimit"
	"github.com/snaredev/snare/scraper"
)

type fakeConn struct{}

func (fakeConn) Probe(ctx context.Context) error { return nil }
func (fakeConn) Close() error                    { return nil }

// fakeNav scripts per-call navigation outcomes.
type fakeNav struct {
	mu       sync.Mutex
	calls    int
	sessions []string
	outcome  func(call int) (*scraper.Snapshot, error)
}

func (f *fakeNav) Navigate(ctx context.Context, sess *browser.Session, req *models.ScrapeRequest, progress func(models.TaskState)) (*scraper.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.sessions = append(f.sessions, sess.ID())
	f.mu.Unlock()

	progress(models.TaskNavigating)
	progress(models.TaskAwaitingCondition)
	return f.outcome(n)
}

func (f *fakeNav) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	snap  *scraper.Snapshot
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *models.ScrapeRequest) (*scraper.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.snap, f.err
}

func goodSnapshot() *scraper.Snapshot {
	return &scraper.Snapshot{
		HTML:       `<html><head><title>Shop</title></head><body><h1>Deluxe Widget</h1></body></html>`,
		Title:      "Shop",
		FinalURL:   "https://example.com/widget",
		StatusCode: 200,
	}
}

func testRequest(maxRetries int) *models.ScrapeRequest {
	return &models.ScrapeRequest{
		URL: "https://example.com/widget",
		Rules: []models.ExtractionRule{
			{Name: "heading", Selector: "h1", Type: models.RuleTypeText},
		},
		Options: models.ScrapeOptions{MaxRetries: &maxRetries},
	}
}

func newTestScheduler(t *testing.T, nav Navigator, fetcher Fetcher) (*Scheduler, *browser.Pool) {
	t.Helper()

	pool := browser.NewPool(config.PoolConfig{
		Capacity:       2,
		AcquireTimeout: 500 * time.Millisecond,
		MaxSessionUses: 100,
		MaxSessionAge:  time.Hour,
		ShutdownGrace:  100 * time.Millisecond,
	}, func(ctx context.Context) (browser.Conn, error) { return fakeConn{}, nil })

	limiter := ratelimit.New(config.RateLimitConfig{
		PerDomainRate:  1000,
		PerDomainBurst: 1000,
		GlobalRate:     1000,
		GlobalBurst:    1000,
	})

	s := New(config.SchedulerConfig{
		QueueCapacity: 8,
		Workers:       2,
		BackoffBase:   time.Millisecond,
		BackoffCap:    10 * time.Millisecond,
		MaxRetriesCap: 5,
	}, config.ScraperConfig{ExtractionBudget: time.Second},
		pool, limiter, nav, fetcher, extract.NewPipeline())
	s.Start()

	t.Cleanup(func() {
		s.Stop()
		limiter.Stop()
		pool.Shutdown()
	})
	return s, pool
}

func TestScrape_Success(t *testing.T) {
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) { return goodSnapshot(), nil }}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})

	resp, err := s.Scrape(context.Background(), testRequest(2))
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}

	if resp.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", resp.Status)
	}
	if resp.Fields["heading"] != "Deluxe Widget" {
		t.Errorf("heading = %v, want Deluxe Widget", resp.Fields["heading"])
	}
	if resp.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", resp.Attempts)
	}
	if resp.Meta.Title != "Shop" || resp.Meta.StatusCode != 200 {
		t.Errorf("meta = %+v, want title Shop status 200", resp.Meta)
	}
}

func TestSubmit_InvalidRequestNeverQueued(t *testing.T) {
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) { return goodSnapshot(), nil }}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})

	req := testRequest(0)
	req.URL = "ftp://example.com"
	req.Defaults()

	_, err := s.Submit(req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if se := models.AsScrapeError(err); se.Kind != models.ErrKindInvalidRequest {
		t.Errorf("kind = %s, want INVALID_REQUEST", se.Kind)
	}
	if nav.callCount() != 0 {
		t.Error("invalid request reached the navigator")
	}
}

func TestSubmit_QueueSaturated(t *testing.T) {
	// No workers: submissions pile up in the queue.
	pool := browser.NewPool(config.PoolConfig{Capacity: 1, AcquireTimeout: time.Second},
		func(ctx context.Context) (browser.Conn, error) { return fakeConn{}, nil })
	limiter := ratelimit.New(config.RateLimitConfig{
		PerDomainRate: 1000, PerDomainBurst: 1000, GlobalRate: 1000, GlobalBurst: 1000,
	})
	defer limiter.Stop()
	defer pool.Shutdown()

	s := New(config.SchedulerConfig{
		QueueCapacity: 2,
		Workers:       1,
		BackoffBase:   time.Millisecond,
		BackoffCap:    10 * time.Millisecond,
		MaxRetriesCap: 5,
	}, config.ScraperConfig{ExtractionBudget: time.Second},
		pool, limiter, &fakeNav{}, &fakeFetcher{}, extract.NewPipeline())
	// Not started.

	for i := 0; i < 2; i++ {
		if _, err := s.Submit(testRequest(0)); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	_, err := s.Submit(testRequest(0))
	if err == nil {
		t.Fatal("expected saturation error")
	}
	if se := models.AsScrapeError(err); se.Kind != models.ErrKindQueueSaturated {
		t.Errorf("kind = %s, want QUEUE_SATURATED", se.Kind)
	}
}

func TestScrape_RetriesTransientThenSucceeds(t *testing.T) {
	nav := &fakeNav{outcome: func(call int) (*scraper.Snapshot, error) {
		if call < 3 {
			return nil, models.NewScrapeError(models.ErrKindNetworkError, "connection reset", nil)
		}
		return goodSnapshot(), nil
	}}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})

	resp, err := s.Scrape(context.Background(), testRequest(2))
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want success (error: %+v)", resp.Status, resp.Error)
	}
	if resp.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", resp.Attempts)
	}
}

func TestScrape_ExhaustsRetries(t *testing.T) {
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) {
		return nil, models.NewScrapeError(models.ErrKindNavigationTimeout, "page never loaded", nil)
	}}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})

	resp, err := s.Scrape(context.Background(), testRequest(1))
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if resp.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", resp.Status)
	}
	if resp.Error == nil || resp.Error.Kind != models.ErrKindNavigationTimeout {
		t.Errorf("error = %+v, want NAVIGATION_TIMEOUT", resp.Error)
	}
	// max_retries 1 means at most 2 attempts.
	if resp.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", resp.Attempts)
	}
	if nav.callCount() != 2 {
		t.Errorf("navigator called %d times, want 2", nav.callCount())
	}
}

func TestScrape_NonRetryableFailsImmediately(t *testing.T) {
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) {
		return &scraper.Snapshot{HTML: "<html><body><p>empty</p></body></html>"}, nil
	}}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})

	req := testRequest(3)
	req.Rules = []models.ExtractionRule{{Name: "missing", Selector: ".nope", Type: models.RuleTypeText}}

	resp, err := s.Scrape(context.Background(), req)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if resp.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", resp.Status)
	}
	if resp.Error.Kind != models.ErrKindExtractionError {
		t.Errorf("error kind = %s, want EXTRACTION_ERROR", resp.Error.Kind)
	}
	if resp.Attempts != 1 {
		t.Errorf("extraction failure retried: attempts = %d, want 1", resp.Attempts)
	}
}

func TestScrape_CrashRetiresSession(t *testing.T) {
	nav := &fakeNav{outcome: func(call int) (*scraper.Snapshot, error) {
		if call == 1 {
			return nil, models.NewScrapeError(models.ErrKindBrowserCrash, "target closed", nil)
		}
		return goodSnapshot(), nil
	}}
	s, pool := newTestScheduler(t, nav, &fakeFetcher{})

	resp, err := s.Scrape(context.Background(), testRequest(2))
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want success", resp.Status)
	}
	if busy := pool.Stats().Busy; busy != 0 {
		t.Errorf("busy = %d after crash retirement, want 0", busy)
	}

	nav.mu.Lock()
	defer nav.mu.Unlock()
	if len(nav.sessions) != 2 {
		t.Fatalf("navigator saw %d sessions, want 2", len(nav.sessions))
	}
	if nav.sessions[0] == nav.sessions[1] {
		t.Error("crashed session was handed out again for the retry")
	}
}

func TestScrape_HTTPRenderSkipsPool(t *testing.T) {
	fetcher := &fakeFetcher{snap: goodSnapshot()}
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) { return goodSnapshot(), nil }}
	s, pool := newTestScheduler(t, nav, fetcher)

	req := testRequest(0)
	req.Options.Render = models.RenderHTTP

	resp, err := s.Scrape(context.Background(), req)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want success", resp.Status)
	}
	if nav.callCount() != 0 {
		t.Error("browser navigator used despite render=http")
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", fetcher.calls)
	}
	if pool.Stats().Live != 0 {
		t.Error("http render created a browser session")
	}
}

func TestSubmit_ClampsRetriesToCap(t *testing.T) {
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) { return goodSnapshot(), nil }}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})

	req := testRequest(50)
	task, err := s.Submit(req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := *task.Request().Options.MaxRetries; got != 5 {
		t.Errorf("max retries = %d, want cap 5", got)
	}
}

func TestTask_ExactlyOneResult(t *testing.T) {
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) { return goodSnapshot(), nil }}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})

	task, err := s.Submit(testRequest(0))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*models.ScrapeResponse, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := task.Wait(context.Background())
			if err != nil {
				t.Errorf("Wait %d: %v", i, err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < 4; i++ {
		if results[i] != results[0] {
			t.Errorf("waiter %d saw a different result", i)
		}
	}
	if task.State() != models.TaskFinalized {
		t.Errorf("terminal state = %s, want finalized", task.State())
	}
}

func TestStop_FailsQueuedTasks(t *testing.T) {
	block := make(chan struct{})
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) {
		<-block
		return goodSnapshot(), nil
	}}

	pool := browser.NewPool(config.PoolConfig{
		Capacity:       2,
		AcquireTimeout: 500 * time.Millisecond,
		MaxSessionUses: 100,
		MaxSessionAge:  time.Hour,
		ShutdownGrace:  100 * time.Millisecond,
	}, func(ctx context.Context) (browser.Conn, error) { return fakeConn{}, nil })
	limiter := ratelimit.New(config.RateLimitConfig{
		PerDomainRate: 1000, PerDomainBurst: 1000, GlobalRate: 1000, GlobalBurst: 1000,
	})
	defer pool.Shutdown()
	defer limiter.Stop()
	defer close(block)

	// A single worker, so the second submission stays queued while the
	// first one is blocked inside navigation.
	s := New(config.SchedulerConfig{
		QueueCapacity: 8,
		Workers:       1,
		BackoffBase:   time.Millisecond,
		BackoffCap:    10 * time.Millisecond,
		MaxRetriesCap: 5,
	}, config.ScraperConfig{ExtractionBudget: time.Second},
		pool, limiter, nav, &fakeFetcher{}, extract.NewPipeline())
	s.Start()

	if _, err := s.Submit(testRequest(0)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for nav.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first task")
		}
		time.Sleep(5 * time.Millisecond)
	}

	queued, err := s.Submit(testRequest(0))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	resp, err := queued.Wait(ctx)
	if err != nil {
		t.Fatalf("queued task got no terminal result after Stop: %v", err)
	}
	if resp.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", resp.Status)
	}
	if resp.Error == nil || resp.Error.Kind != models.ErrKindInternal {
		t.Errorf("error = %+v, want INTERNAL_ERROR", resp.Error)
	}

	// Late submissions are rejected instead of being stranded.
	if _, err := s.Submit(testRequest(0)); err == nil {
		t.Error("Submit accepted a task after Stop")
	}
}

func TestTask_WaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	nav := &fakeNav{outcome: func(int) (*scraper.Snapshot, error) {
		<-block
		return goodSnapshot(), nil
	}}
	s, _ := newTestScheduler(t, nav, &fakeFetcher{})
	defer close(block)

	task, err := s.Submit(testRequest(0))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := task.Wait(ctx); err == nil {
		t.Error("Wait returned before the task finished and without a context error")
	}
}
