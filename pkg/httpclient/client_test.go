package httpclient

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return cfg
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != DefaultUserAgent {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	c := New(testConfig())
	resp, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestClient_RetriesOn503(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := New(testConfig())
	resp, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestClient_ExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(testConfig())
	_, err := c.Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
}

func TestClient_Returns304(t *testing.T) {
	// Conditional GET responses must come back to the caller, not be
	// retried or treated as failures.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	c := New(testConfig())
	resp, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}
	if c.CircuitState() != CircuitClosed {
		t.Errorf("expected closed circuit, got %v", c.CircuitState())
	}
}

func TestClient_Decompression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		gw.Write([]byte("compressed content"))
		gw.Close()
	}))
	defer server.Close()

	c := New(testConfig())
	resp, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "compressed content" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestClient_DecompressionDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		gw.Write([]byte("raw bytes please"))
		gw.Close()
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.EnableDecompression = false
	c := New(cfg)

	resp, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	// The gzip magic must survive untouched.
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		t.Error("expected raw gzip bytes")
	}
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)

	if !cb.Allow() {
		t.Fatal("closed breaker should allow")
	}

	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after 1 failure, got %v", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after threshold, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker should reject")
	}

	time.Sleep(25 * time.Millisecond)
	if !cb.Allow() {
		t.Error("breaker should probe after timeout")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after probe success, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	cb.RecordFailure()
	if cb.Allow() {
		t.Error("failed probe should reopen the breaker")
	}
}
