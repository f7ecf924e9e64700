package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, EventDerivativesCompleted, map[string]any{"job_id": "job-1"})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotSig == "" {
		t.Fatal("expected signature header")
	}
	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if gotEvt != EventDerivativesCompleted {
		t.Fatalf("expected event header %s, got %q", EventDerivativesCompleted, gotEvt)
	}
	if !Verify("test-secret", gotTS, gotBody, gotSig) {
		t.Fatal("signature does not verify against body")
	}
	if Verify("other-secret", gotTS, gotBody, gotSig) {
		t.Fatal("signature verified with wrong secret")
	}
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	if err := client.Send(context.Background(), srv.URL, EventDerivativesFailed, map[string]string{"job_id": "j"}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 2, InitialBackoff: time.Millisecond})
	if err := client.Send(context.Background(), srv.URL, EventDerivativesFailed, nil); err == nil {
		t.Fatal("expected delivery error")
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	client := NewClient(Config{})
	if err := client.Send(context.Background(), "  ", EventDerivativesCompleted, nil); err != nil {
		t.Fatalf("expected nil for empty endpoint, got %v", err)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 4, InitialBackoff: time.Millisecond})
	err := client.Send(context.Background(), srv.URL, EventDerivativesCompleted, nil)
	if err == nil || !strings.Contains(err.Error(), "status=410") {
		t.Fatalf("expected rejected delivery error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"3":   3 * time.Second,
		"-1":  0,
		"abc": 0,
	}
	for in, want := range cases {
		if got := parseRetryAfter(in); got != want {
			t.Fatalf("parseRetryAfter(%q) = %s, want %s", in, got, want)
		}
	}
}
