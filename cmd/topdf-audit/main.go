// CLAUDE:SUMMARY Read-only HTTP viewer over the topdf journal: runs list, run detail, per-run outcomes.
// Command topdf-audit serves the topdf journal over HTTP, read-only.
//
// Usage:
//
//	topdf-audit -journal ./inbox/.topdf-journal.db -addr 127.0.0.1:8086
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/journal"
	"github.com/hazyhaar/topdf/shield"
)

func main() {
	journalPath := flag.String("journal", config.DefaultJournalFile, "journal database written by topdf")
	addr := flag.String("addr", "127.0.0.1:8086", "listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *journalPath, *addr); err != nil {
		logger.Error("topdf-audit: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, journalPath, addr string) error {
	j, err := journal.OpenReadOnly(journalPath, journal.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(j, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("topdf-audit: listening", "addr", addr, "journal", journalPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("topdf-audit: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(j *journal.Journal, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.ViewerStack(logger) {
		r.Use(mw)
	}
	j.Routes(r)
	return r
}
