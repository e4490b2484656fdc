package scraper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/models"
)

// Navigate drives one page load on the acquired session and returns a
// rendered snapshot.
//
// Order matters here:
//   - stealth JS and the hijack router only apply to navigations installed
//     before them, so both go in before Navigate;
//   - the network-idle waiter registers a CDP listener that must exist
//     before Navigate or in-flight requests are missed and the wait
//     returns instantly.
//
// The navigation and wait phases run under their own timeouts (clamped by
// config); the caller's ctx carries the whole-task deadline on top.
// progress, when non-nil, is told about phase transitions so the owning
// task's state machine tracks what the page is actually doing.
func (s *Scraper) Navigate(ctx context.Context, sess *browser.Session, req *models.ScrapeRequest, progress func(models.TaskState)) (*Snapshot, error) {
	if progress == nil {
		progress = func(models.TaskState) {}
	}
	pc, ok := sess.Conn().(*pageConn)
	if !ok {
		return nil, models.NewScrapeError(models.ErrKindInternal,
			"session does not carry a browser tab", nil)
	}
	page := pc.page
	defer pc.reset()

	// Viewport.
	if vp := req.Options.Viewport; vp != nil {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             vp.Width,
			Height:            vp.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return nil, categorizeError(err, "failed to set viewport")
		}
	}

	// Stealth injection, before navigation.
	if req.Options.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			return nil, categorizeError(err, "stealth injection failed")
		}
	}

	// Extra headers.
	if len(req.Options.Headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(req.Options.Headers),
		}.Call(page)
	}

	// Resource blocking. The hijack router uses the CDP Fetch domain,
	// which conflicts with WaitRequestIdle on Chromium 145+, so it stays
	// unmounted when the request asked for the network-idle wait.
	wantIdle := req.Options.WaitFor != nil && req.Options.WaitFor.Strategy == models.WaitStrategyIdle
	if !wantIdle {
		if router := mountHijack(page, s.scraperCfg.BlockedResourceTypes); router != nil {
			defer func() { _ = router.Stop() }()
		}
	}

	// Navigation phase, under its own deadline.
	navTimeout := clampSeconds(req.Options.NavigationTimeout, s.scraperCfg.MaxNavigationTimeout)
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()
	p := page.Context(navCtx)

	var waitIdle func()
	if wantIdle {
		waitIdle = p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
	}

	progress(models.TaskNavigating)
	if err := p.Navigate(req.URL); err != nil {
		return nil, categorizeError(err, "navigation to target URL failed")
	}
	if err := p.WaitLoad(); err != nil {
		return nil, categorizeError(err, "page load event did not fire")
	}

	// Wait condition phase.
	progress(models.TaskAwaitingCondition)
	waitTimeout := clampSeconds(req.Options.WaitTimeout, s.scraperCfg.MaxWaitTimeout)
	waitCtx, waitCancel := context.WithTimeout(ctx, waitTimeout)
	defer waitCancel()
	if err := awaitCondition(waitCtx, page, req.Options.WaitFor, waitIdle); err != nil {
		return nil, err
	}

	// Snapshot. Status code comes from the navigation performance entry,
	// which needs no CDP event listeners (those conflict with the hijack
	// router on Chromium 145+).
	pw := page.Context(ctx)
	var statusCode int
	if res, err := pw.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		statusCode = res.Value.Int()
	}

	rawHTML, err := pw.HTML()
	if err != nil {
		return nil, categorizeError(err, "failed to capture rendered HTML")
	}

	title := evalStringOrEmpty(pw, `() => document.title`)
	finalURL := evalStringOrEmpty(pw, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	return &Snapshot{
		HTML:       rawHTML,
		Title:      title,
		FinalURL:   finalURL,
		StatusCode: statusCode,
	}, nil
}

// awaitCondition blocks until the configured readiness condition holds.
// Failures to satisfy it within the window are NAVIGATION_TIMEOUTs.
func awaitCondition(ctx context.Context, page *rod.Page, wf *models.WaitCondition, waitIdle func()) error {
	p := page.Context(ctx)

	strategy := models.WaitStrategyAuto
	if wf != nil {
		strategy = wf.Strategy
	}

	switch strategy {
	case models.WaitStrategyDelay:
		select {
		case <-time.After(time.Duration(wf.DelayMs) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return models.NewScrapeError(models.ErrKindNavigationTimeout,
				"wait delay exceeded the wait timeout", ctx.Err())
		}

	case models.WaitStrategySelector:
		if err := p.WaitElementsMoreThan(wf.Selector, 0); err != nil {
			return models.NewScrapeError(models.ErrKindNavigationTimeout,
				"selector "+wf.Selector+" did not appear within the wait timeout", err)
		}
		return nil

	case models.WaitStrategyIdle:
		done := make(chan struct{})
		go func() {
			waitIdle()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return models.NewScrapeError(models.ErrKindNavigationTimeout,
				"network did not go idle within the wait timeout", ctx.Err())
		}

	default: // auto: DOM-stable heuristic, best effort
		if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			if isTerminal(err) {
				return categorizeError(err, "waiting for DOM stability failed")
			}
		}
		return nil
	}
}

// clampSeconds converts a request-supplied second count to a duration
// bounded by the configured maximum.
func clampSeconds(seconds int, max time.Duration) time.Duration {
	d := time.Duration(seconds) * time.Second
	if d <= 0 || d > max {
		return max
	}
	return d
}

// evalStringOrEmpty evaluates a JS expression and returns the string
// result, swallowing errors (optional metadata only).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// isTerminal reports whether an error means the operation cannot proceed
// at all, as opposed to a heuristic that merely did not converge.
func isTerminal(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		isCrash(err)
}

// isCrash detects a dead browser or tab behind an error.
func isCrash(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"cdp connection",
		"websocket",
		"target closed",
		"session closed",
		"browser has been closed",
		"page has been closed",
		"use of closed network connection",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// categorizeError wraps raw navigation errors into the typed taxonomy so
// the scheduler can decide retryability and the API layer can map status
// codes.
//
//   - dead browser/tab            -> BROWSER_CRASH (retryable, retires the session)
//   - deadline/cancel             -> NAVIGATION_TIMEOUT (retryable)
//   - everything else (DNS, TLS,
//     connection refused, net::ERR) -> NETWORK_ERROR (retryable)
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case isCrash(err):
		return models.NewScrapeError(models.ErrKindBrowserCrash, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrKindNavigationTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrKindNavigationTimeout, "navigation canceled", err)
	default:
		return models.NewScrapeError(models.ErrKindNetworkError, msg, err)
	}
}
