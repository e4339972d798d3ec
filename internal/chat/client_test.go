package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelfleet/modelfleet/config"
)

type collectSink struct {
	mu        sync.Mutex
	tokens    []string
	completed bool
	err       error
}

func (s *collectSink) OnToken(tok string) {
	s.mu.Lock()
	s.tokens = append(s.tokens, tok)
	s.mu.Unlock()
}

func (s *collectSink) OnComplete() {
	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()
}

func (s *collectSink) OnError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func testClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	return NewClient(config.GatewayConfig{
		BaseURL:           url,
		MaxRetries:        retries,
		InitialRetryDelay: time.Millisecond,
		Timeout:           5 * time.Second,
	}, nil, log.New(io.Discard, "", 0))
}

func testModel() config.ModelConfig {
	return config.ModelConfig{Name: "alpha", ModelName: "alpha-1", APIKey: "k", MaxTokens: 256, Temperature: 0.7}
}

func TestInvokeBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("authorization = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"buffered reply"}}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	text, err := c.Invoke(context.Background(), testModel(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "buffered reply" {
		t.Fatalf("text = %q", text)
	}
}

func TestInvokeStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"one \"}}]}\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"two\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	sink := &collectSink{}
	text, err := c.Invoke(context.Background(), testModel(), nil, sink)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "one two" {
		t.Fatalf("text = %q", text)
	}
	if len(sink.tokens) != 2 {
		t.Fatalf("tokens = %q", sink.tokens)
	}
	if !sink.completed {
		t.Fatal("OnComplete not called")
	}
	if sink.err != nil {
		t.Fatalf("OnError called: %v", sink.err)
	}
}

func TestInvokeRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"third time"}}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 5)
	start := time.Now()
	text, err := c.Invoke(context.Background(), testModel(), nil, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "third time" {
		t.Fatalf("text = %q", text)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	// Backoff doubles: 1ms after the first failure, 2ms after the second.
	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Fatalf("elapsed = %s, want >= 3ms of backoff", elapsed)
	}
}

func TestInvokeExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	sink := &collectSink{}
	_, err := c.Invoke(context.Background(), testModel(), nil, sink)
	var unavailable *ModelUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *ModelUnavailableError", err)
	}
	if unavailable.Model != "alpha" || unavailable.Attempts != 3 {
		t.Fatalf("unavailable = %+v", unavailable)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if sink.err == nil {
		t.Fatal("OnError not called after exhaustion")
	}
}

func TestInvokeCancellationIsNotRetried(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := testClient(t, srv.URL, 5)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	sink := &collectSink{}
	_, err := c.Invoke(ctx, testModel(), nil, sink)
	if !IsCancellation(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	var unavailable *ModelUnavailableError
	if errors.As(err, &unavailable) {
		t.Fatal("cancellation must not surface as ModelUnavailableError")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry after cancel)", got)
	}
	if sink.err != nil {
		t.Fatalf("OnError called on cancellation: %v", sink.err)
	}
}
