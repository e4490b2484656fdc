package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snaredev/snare/api"
	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/cache"
	"github.com/snaredev/snare/config"
	"github.com/snaredev/snare/extract"
	"github.com/snaredev/snare/llm"
	"github.com/snaredev/snare/ratelimit"
	"github.com/snaredev/snare/scheduler"
	"github.com/snaredev/snare/scraper"
)

func main() {
	cfg := config.Load()

	initLogger(cfg.Log)
	slog.Info("snare starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"poolCapacity", cfg.Pool.Capacity,
		"workers", cfg.Scheduler.Workers,
	)

	// Scraper owns the browser process; the pool manages tabs inside it.
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Scraper)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		os.Exit(1)
	}
	defer sc.Close()

	pool := browser.NewPool(cfg.Pool, sc.NewConn)
	limiter := ratelimit.New(cfg.RateLimit)
	pipeline := extract.NewPipeline()
	fetcher := scraper.NewHTTPFetcher()

	sched := scheduler.New(cfg.Scheduler, cfg.Scraper, pool, limiter, sc, fetcher, pipeline)
	sched.Start()

	cc := cache.New(cfg.Cache.MaxEntries)
	llmClient := llm.NewClient(nil)

	startTime := time.Now()
	router := api.NewRouter(sched, pool, llmClient, cfg, cc, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	sched.Stop()
	cc.Stop()
	limiter.Stop()
	pool.Shutdown()

	// sc.Close() runs via defer and kills the browser process.
	slog.Info("snare stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
