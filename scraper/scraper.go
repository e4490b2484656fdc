// Package scraper drives headless Chromium through go-rod.
//
// It owns the single browser process, hands out tab connections to the
// session pool, and executes one navigation per task: viewport, stealth,
// headers, page load, wait condition, snapshot. The pool decides which tab
// runs which task; this package only knows how to drive a tab.
package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/config"
	"github.com/snaredev/snare/models"
)

// Scraper manages the global browser lifecycle. Safe for concurrent use.
type Scraper struct {
	browser    *rod.Browser
	browserCfg config.BrowserConfig
	scraperCfg config.ScraperConfig
}

// NewScraper launches a headless browser and connects to it.
func NewScraper(browserCfg config.BrowserConfig, scraperCfg config.ScraperConfig) (*Scraper, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrKindBrowserCrash,
			"failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, models.NewScrapeError(models.ErrKindBrowserCrash,
			"failed to connect to browser", err)
	}

	return &Scraper{
		browser:    b,
		browserCfg: browserCfg,
		scraperCfg: scraperCfg,
	}, nil
}

// NewConn creates a fresh tab for the session pool. It is the pool's
// browser.Factory.
func (s *Scraper) NewConn(ctx context.Context) (browser.Conn, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	return &pageConn{page: page}, nil
}

// Close kills the browser process. Call on shutdown, after the pool has
// drained, to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: closing browser")
	if err := s.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}

// pageConn adapts one rod page to the pool's Conn interface.
type pageConn struct {
	page *rod.Page
}

// Probe checks that the tab's render process still answers a trivial eval.
func (c *pageConn) Probe(ctx context.Context) error {
	_, err := c.page.Context(ctx).Eval(`() => 1`)
	return err
}

func (c *pageConn) Close() error {
	return c.page.Close()
}

// reset points the tab back at about:blank between tasks so one task's DOM
// cannot leak into the next, using the original page reference so cleanup
// succeeds even after the task context expired.
func (c *pageConn) reset() {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.page.Context(cleanupCtx).Navigate("about:blank"); err != nil {
		slog.Warn("cleanup: failed to navigate to about:blank", "error", err)
	}
}
