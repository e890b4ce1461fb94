package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ParaToolsInc/snapped/iox"
)

func testEvent() *TreeBuiltEvent {
	return NewTreeBuiltEvent("node-1:41231", 18, 1500*time.Millisecond)
}

func TestPublish_Success(t *testing.T) {
	var received TreeBuiltEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	hook, err := New(Config{URL: ts.URL, Retries: 0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(hook)

	if err := hook.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if received.EventType != "tree_built" {
		t.Errorf("expected tree_built, got %s", received.EventType)
	}
	if received.NodeCount != 18 {
		t.Errorf("expected 18 nodes, got %d", received.NodeCount)
	}
	if received.DurationMs != 1500 {
		t.Errorf("expected 1500ms, got %d", received.DurationMs)
	}
	if received.RootURL != "node-1:41231" {
		t.Errorf("expected root url, got %s", received.RootURL)
	}
}

func TestPublish_CustomHeaders(t *testing.T) {
	var authHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	hook, err := New(Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
		Retries: 0,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(hook)

	if err := hook.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if authHeader != "Bearer test-token" {
		t.Errorf("Authorization = %q", authHeader)
	}
}

func TestPublish_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	hook, err := New(Config{URL: ts.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(hook)

	if err := hook.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestPublish_4xxIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	hook, err := New(Config{URL: ts.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(hook)

	err = hook.Publish(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected error for 4xx, got nil")
	}
	if !strings.Contains(err.Error(), "non-retriable") {
		t.Errorf("error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL, got nil")
	}
}

func TestNew_RejectsNegativeRetries(t *testing.T) {
	if _, err := New(Config{URL: "https://example.com", Retries: -1}); err == nil {
		t.Error("expected error for negative retries, got nil")
	}
}
