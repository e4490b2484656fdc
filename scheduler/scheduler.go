// Package scheduler dispatches scrape tasks against the session pool.
//
// A bounded intake queue gives backpressure (fast-fail QUEUE_SATURATED
// instead of unbounded buffering), a fixed set of workers executes tasks
// FIFO, and transient failures are retried with capped exponential backoff
// as an explicit Retrying edge in the task state machine. Every submitted
// task yields exactly one terminal result.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/config"
	"github.com/snaredev/snare/extract"
	"github.com/snaredev/snare/models"
	"github.com/snaredev/snare/ratelimit"
	"github.com/snaredev/snare/scraper"
)

// Navigator drives one browser navigation on an acquired session.
// *scraper.Scraper is the production implementation.
type Navigator interface {
	Navigate(ctx context.Context, sess *browser.Session, req *models.ScrapeRequest, progress func(models.TaskState)) (*scraper.Snapshot, error)
}

// Fetcher is the browserless path for render mode "http".
type Fetcher interface {
	Fetch(ctx context.Context, req *models.ScrapeRequest) (*scraper.Snapshot, error)
}

// Scheduler mediates between submissions, the rate limiter and the pool.
type Scheduler struct {
	cfg      config.SchedulerConfig
	pool     *browser.Pool
	limiter  *ratelimit.Limiter
	nav      Navigator
	fetcher  Fetcher
	pipeline *extract.Pipeline

	queue  chan *Task
	ctx    context.Context
	cancel context.CancelFunc

	extractionBudget time.Duration
}

// New creates a Scheduler. Call Start to launch the workers.
func New(cfg config.SchedulerConfig, scraperCfg config.ScraperConfig, pool *browser.Pool,
	limiter *ratelimit.Limiter, nav Navigator, fetcher Fetcher, pipeline *extract.Pipeline) *Scheduler {

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:              cfg,
		pool:             pool,
		limiter:          limiter,
		nav:              nav,
		fetcher:          fetcher,
		pipeline:         pipeline,
		queue:            make(chan *Task, cfg.QueueCapacity),
		ctx:              ctx,
		cancel:           cancel,
		extractionBudget: scraperCfg.ExtractionBudget,
	}
}

// Start launches the worker executors.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(i)
	}
	slog.Info("scheduler started", "workers", s.cfg.Workers, "queueCapacity", s.cfg.QueueCapacity)
}

// Stop cancels the workers and fails every task still waiting in the
// intake queue, so no submitted task ends without a terminal result.
func (s *Scheduler) Stop() {
	s.cancel()
	s.drainQueue()
}

// Submit validates and enqueues one request, returning the task handle.
// Validation failures are INVALID_REQUEST and never touch the queue, the
// limiter, or the pool. A full queue fails fast with QUEUE_SATURATED:
// queue admission is decided before any rate-limit consideration.
func (s *Scheduler) Submit(req *models.ScrapeRequest) (*Task, error) {
	req.Defaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if *req.Options.MaxRetries > s.cfg.MaxRetriesCap {
		n := s.cfg.MaxRetriesCap
		req.Options.MaxRetries = &n
	}

	if s.ctx.Err() != nil {
		return nil, models.NewScrapeError(models.ErrKindInternal,
			"scheduler is stopped", s.ctx.Err())
	}

	t := newTask(req)
	select {
	case s.queue <- t:
		slog.Debug("task enqueued", "task", t.ID(), "url", req.URL)
		return t, nil
	default:
		return nil, models.NewScrapeError(models.ErrKindQueueSaturated,
			"intake queue is full, retry later", nil)
	}
}

// Scrape is the synchronous convenience path: submit, then wait for the
// terminal result under the caller's context.
func (s *Scheduler) Scrape(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResponse, error) {
	t, err := s.Submit(req)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// Stats reports queue occupancy for the health endpoint.
func (s *Scheduler) Stats() models.QueueStats {
	return models.QueueStats{Capacity: s.cfg.QueueCapacity, Depth: len(s.queue)}
}

func (s *Scheduler) worker(id int) {
	for {
		select {
		case <-s.ctx.Done():
			s.drainQueue()
			return
		case t := <-s.queue:
			s.execute(t)
		}
	}
}

// drainQueue fails whatever is still queued at shutdown. Both Stop and
// the exiting workers drain, closing the window where a task lands on
// the queue after the last worker has left.
func (s *Scheduler) drainQueue() {
	for {
		select {
		case t := <-s.queue:
			t.failWith(models.NewScrapeError(models.ErrKindInternal,
				"scheduler stopped before the task could run", s.ctx.Err()))
		default:
			return
		}
	}
}

// attemptBudget is the per-attempt deadline: navigation + wait + a fixed
// extraction allowance. Exceeding it aborts the in-flight browser
// operation via context cancellation.
func (s *Scheduler) attemptBudget(req *models.ScrapeRequest) time.Duration {
	nav := time.Duration(req.Options.NavigationTimeout) * time.Second
	wait := time.Duration(req.Options.WaitTimeout) * time.Second
	return nav + wait + s.extractionBudget
}

// execute runs one attempt of a task and decides its fate: terminal
// result, or a Retrying edge back onto the queue.
func (s *Scheduler) execute(t *Task) {
	req := t.Request()
	attempt := t.beginAttempt()

	ctx, cancel := context.WithTimeout(s.ctx, s.attemptBudget(req))
	defer cancel()

	// Admission control. The blocking wait is bounded by the attempt
	// budget, so a task never queues against a throttled domain longer
	// than it would have been willing to navigate.
	if !s.limiter.Admit(req.TargetDomain()) {
		if err := s.limiter.Wait(ctx, req.TargetDomain()); err != nil {
			t.failWith(models.NewScrapeError(models.ErrKindRateLimited,
				"admission for "+req.TargetDomain()+" not granted within the task budget", err))
			return
		}
	}

	navStart := time.Now()
	snap, navErr := s.performNavigation(ctx, t, req)
	t.addNavMs(time.Since(navStart).Milliseconds())

	if navErr != nil {
		s.handleFailure(t, attempt, navErr)
		return
	}

	// Extraction runs over the captured snapshot, outside the browser.
	t.setState(models.TaskExtracting)
	extractStart := time.Now()
	res, err := s.pipeline.Extract(snap.HTML, req.Rules)
	extractMs := time.Since(extractStart).Milliseconds()
	if err != nil {
		t.recordError(err)
		t.failWith(models.AsScrapeError(err))
		return
	}

	resp := &models.ScrapeResponse{
		Status:      res.Status(),
		Fields:      res.Fields,
		FieldErrors: res.FieldErrors,
		Meta: models.PageMeta{
			Title:      snap.Title,
			FinalURL:   snap.FinalURL,
			StatusCode: snap.StatusCode,
		},
		Timing: models.TimingInfo{ExtractionMs: extractMs},
	}

	if req.Options.IncludeContent {
		if md, err := s.pipeline.MainContent(snap.HTML, req.URL); err == nil {
			resp.Content = md
		} else {
			slog.Warn("main-content extraction failed", "task", t.ID(), "error", err)
		}
	}

	t.finish(resp)
}

// performNavigation fetches the page through the configured render path.
// The browser path acquires a session from the pool; the http path skips
// the pool entirely.
func (s *Scheduler) performNavigation(ctx context.Context, t *Task, req *models.ScrapeRequest) (*scraper.Snapshot, error) {
	if req.Options.Render == models.RenderHTTP {
		t.setState(models.TaskNavigating)
		return s.fetcher.Fetch(ctx, req)
	}

	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		switch {
		case errors.Is(err, browser.ErrPoolExhausted), errors.Is(err, browser.ErrPoolClosed):
			return nil, models.NewScrapeError(models.ErrKindPoolExhausted,
				"no browser session available", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, models.NewScrapeError(models.ErrKindPoolExhausted,
				"task budget exhausted while waiting for a session", err)
		default:
			return nil, models.AsScrapeError(err)
		}
	}
	t.setSession(sess)
	defer t.setSession(nil)

	snap, navErr := s.nav.Navigate(ctx, sess, req, t.setState)

	// A crashed session must never go back to the idle set.
	if navErr != nil && models.AsScrapeError(navErr).Kind == models.ErrKindBrowserCrash {
		slog.Warn("session crashed mid-task, retiring", "task", t.ID(), "session", sess.ID())
		s.pool.Retire(sess)
	} else {
		s.pool.Release(sess)
	}
	return snap, navErr
}

// handleFailure applies retry policy after a failed attempt. attempt is
// 1-based; a task makes at most max_retries+1 attempts in total.
func (s *Scheduler) handleFailure(t *Task, attempt int, err error) {
	se := models.AsScrapeError(err)
	t.recordError(se)

	maxRetries := *t.Request().Options.MaxRetries
	if !se.Retryable() || attempt > maxRetries {
		t.failWith(se)
		return
	}

	delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffCap, attempt)
	t.setState(models.TaskRetrying)
	slog.Debug("task retrying", "task", t.ID(), "attempt", attempt,
		"kind", se.Kind, "delay", delay)

	time.AfterFunc(delay, func() { s.requeue(t) })
}

// requeue puts a retrying task back on the intake queue. Retries block for
// a slot instead of fast-failing: the task was already admitted once and
// must still end in exactly one terminal result.
func (s *Scheduler) requeue(t *Task) {
	select {
	case s.queue <- t:
	case <-s.ctx.Done():
		t.failWith(models.NewScrapeError(models.ErrKindInternal,
			"scheduler stopped before the task could retry", s.ctx.Err()))
	}
}
