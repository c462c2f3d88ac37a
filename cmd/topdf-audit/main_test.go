package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/journal"
)

const runID = "01920000-0000-7000-8000-0000000000b1"

func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if err := j.BeginRun(context.Background(), audit.Session{RunID: runID, Root: "/srv/docs", Method: "auto", Started: time.Now()}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRouter(t *testing.T) {
	j, err := journal.OpenReadOnly(seedJournal(t))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	h := newRouter(j, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		method, target string
		code           int
		contains       string
	}{
		{http.MethodGet, "/health", http.StatusOK, "ok"},
		{http.MethodGet, "/runs", http.StatusOK, runID},
		{http.MethodGet, "/runs/" + runID, http.StatusOK, "/srv/docs"},
		{http.MethodGet, "/", http.StatusOK, "topdf runs (1)"},
		{http.MethodHead, "/health", http.StatusOK, ""},
		{http.MethodPost, "/runs", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
		if rec.Code != tt.code {
			t.Errorf("%s %s: got %d, want %d", tt.method, tt.target, rec.Code, tt.code)
		}
		if !strings.Contains(rec.Body.String(), tt.contains) {
			t.Errorf("%s %s: body %q lacks %q", tt.method, tt.target, rec.Body.String(), tt.contains)
		}
		if rec.Header().Get("X-Trace-ID") == "" && tt.code == http.StatusOK {
			t.Errorf("%s %s: no trace id", tt.method, tt.target)
		}
	}
}

func TestRun_MissingJournal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := run(context.Background(), logger, filepath.Join(t.TempDir(), "none.db"), "127.0.0.1:0"); err == nil {
		t.Fatal("missing journal accepted")
	}
}

func TestRun_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { done <- run(ctx, logger, seedJournal(t), "127.0.0.1:0") }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
