package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelfleet/modelfleet/config"
)

func TestCheck(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/moderation/check" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["content"] != "suspect text" {
			t.Errorf("content = %q", req["content"])
		}
		fmt.Fprint(w, `{"id":"m1","model":"mod-1","results":[{"flagged":true,"categories":{"violence":true},"categoryScores":{"violence":0.87,"spam":0.001}}]}`)
	}))
	defer srv.Close()

	c := NewClient(config.ModerationConfig{BaseURL: srv.URL, Timeout: time.Second})
	resp, err := c.Check(context.Background(), "suspect text")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(resp.Results) != 1 || !resp.Results[0].Flagged {
		t.Fatalf("response = %+v", resp)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly one (no retries)", calls)
	}
}

func TestCheckUpstreamFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(config.ModerationConfig{BaseURL: srv.URL, Timeout: time.Second})
	if _, err := c.Check(context.Background(), "anything"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, failures must not be retried", calls)
	}
}

func TestFormatResultClean(t *testing.T) {
	got := FormatResult(Result{Flagged: false, CategoryScores: map[string]float64{"spam": 0.001}})
	if !strings.Contains(got, "No concerning content") {
		t.Fatalf("got %q", got)
	}
}

func TestFormatResultFlagged(t *testing.T) {
	got := FormatResult(Result{
		Flagged: true,
		CategoryScores: map[string]float64{
			"violence": 0.87,
			"hate":     0.42,
			"spam":     0.005,
		},
	})
	if !strings.Contains(got, "flagged for moderation") {
		t.Fatalf("got %q", got)
	}
	// Scores render in descending order and sub-threshold ones are dropped.
	vi := strings.Index(got, "violence: 87.0%")
	hi := strings.Index(got, "hate: 42.0%")
	if vi < 0 || hi < 0 || vi > hi {
		t.Fatalf("score ordering wrong:\n%s", got)
	}
	if strings.Contains(got, "spam") {
		t.Fatalf("insignificant score rendered:\n%s", got)
	}
}
