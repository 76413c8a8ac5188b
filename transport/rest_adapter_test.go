package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-publisher/core"
)

func TestRESTAdapter_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if got := r.URL.Query().Get("access_token"); got != "tok_1" {
			t.Fatalf("expected access_token query, got %q", got)
		}
		if got := r.Header.Get("X-Trace"); got != "trace_1" {
			t.Fatalf("expected default header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "post_1"}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(nil)
	adapter.DefaultHeaders["X-Trace"] = "trace_1"

	res, err := adapter.Do(context.Background(), core.TransportRequest{
		Method: http.MethodPost,
		URL:    server.URL + "/feed",
		Query:  map[string]string{"access_token": "tok_1"},
		Body:   []byte(`{"message": "hi"}`),
	})
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if !strings.Contains(string(res.Body), "post_1") {
		t.Fatalf("unexpected body: %s", res.Body)
	}
}

func TestRESTAdapter_EnforcesBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(nil)
	_, err := adapter.Do(context.Background(), core.TransportRequest{
		URL:                  server.URL,
		MaxResponseBodyBytes: 16,
	})
	if err == nil {
		t.Fatalf("expected body limit error")
	}
}

func TestRESTAdapter_RequiresURL(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	_, err := adapter.Do(context.Background(), core.TransportRequest{})
	if err == nil {
		t.Fatalf("expected url validation error")
	}
}

func TestClassifyStatus(t *testing.T) {
	if err := ClassifyStatus(200, "facebook", "acct", nil); err != nil {
		t.Fatalf("expected success for 200, got %v", err)
	}

	err := ClassifyStatus(401, "facebook", "acct", nil)
	if core.FailureReasonForError(err) != core.FailureReasonAuthExpired {
		t.Fatalf("expected auth expiry for 401, got %v", err)
	}

	err = ClassifyStatus(503, "facebook", "acct", nil)
	if !core.IsRetryable(err) {
		t.Fatalf("expected 503 to be retryable, got %v", err)
	}

	err = ClassifyStatus(400, "facebook", "acct", []byte(`{"error": "bad media"}`))
	if core.IsRetryable(err) {
		t.Fatalf("expected 400 to be terminal, got %v", err)
	}
	if core.FailureReasonForError(err) != core.FailureReasonPlatformRejected {
		t.Fatalf("expected platform rejection for 400, got %v", err)
	}
}
