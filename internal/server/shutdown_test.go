package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietConfig() ShutdownConfig {
	cfg := DefaultShutdownConfig()
	cfg.DrainTimeout = 500 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(quietConfig())

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		sm.RegisterCloser(CloserFunc(func() error {
			order = append(order, i)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Errorf("Expected closers in reverse order, got %v", order)
	}

	// A second call is a no-op.
	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Errorf("Second Shutdown returned %v", err)
	}
	if len(order) != 3 {
		t.Errorf("Expected closers to run once, got %v", order)
	}
}

func TestShutdown_ReportsCloseError(t *testing.T) {
	sm := NewShutdownManager(quietConfig())
	boom := errors.New("boom")
	sm.RegisterCloser(CloserFunc(func() error { return boom }))

	if err := sm.Shutdown(context.Background(), "test"); !errors.Is(err, boom) {
		t.Errorf("Expected close error, got %v", err)
	}
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(quietConfig())
	if !sm.TrackRequest() {
		t.Fatal("Expected request to be tracked before shutdown")
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		sm.UntrackRequest()
	}()

	start := time.Now()
	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("Expected shutdown to wait for the in-flight request")
	}
	if sm.TrackRequest() {
		t.Error("Expected new requests to be rejected after shutdown")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	cfg := quietConfig()
	cfg.DrainTimeout = 60 * time.Millisecond
	sm := NewShutdownManager(cfg)
	sm.TrackRequest()

	if err := sm.Shutdown(context.Background(), "test"); err == nil {
		t.Error("Expected drain timeout error")
	}
}

func TestMiddleware_RejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(quietConfig())
	var seen atomic.Int64
	h := sm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(sm.InFlightCount())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK || seen.Load() != 1 {
		t.Errorf("Expected tracked request, got status %d in-flight %d", w.Code, seen.Load())
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("Expected no in-flight requests, got %d", sm.InFlightCount())
	}

	sm.Shutdown(context.Background(), "test")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestServe_StopsOnShutdown(t *testing.T) {
	sm := NewShutdownManager(quietConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}

	done := make(chan error, 1)
	go func() { done <- sm.Serve(srv, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sm.ListenForSignals(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}
