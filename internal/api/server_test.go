package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/queue"
	"github.com/dunamismax/imageq/internal/ratelimit"
	"github.com/dunamismax/imageq/internal/store"
	"github.com/hibiken/asynq"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.GenerateDerivativesPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueGenerateDerivatives(_ context.Context, payload queue.GenerateDerivativesPayload) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "derivatives", State: asynq.TaskStatePending}, nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	subjects []string
	costs    []int64
	decision ratelimit.Decision
	err      error
}

func (f *fakeLimiter) Allow(_ context.Context, subject string, cost int64) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.costs = append(f.costs, cost)
	return f.decision, f.err
}

func newTestServer(enq *fakeEnqueuer, limiter RateLimiter) (*Server, *store.MemoryJobStore) {
	jobs := store.NewMemoryJobStore()
	return NewServer(nil, enq, jobs, Options{RateLimiter: limiter}), jobs
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/derivatives", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateDerivativesQueuesJob(t *testing.T) {
	enq := &fakeEnqueuer{}
	srv, jobs := newTestServer(enq, nil)

	rec := post(t, srv.Handler(), `{"bags":[" Smith_1800 ","Jones_1900"],"format":"jpeg","scale":0.4,"crop":[10,10,200,200],"upload":true}`, map[string]string{"X-User-ID": "user-1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	jobID, _ := resp["job_id"].(string)
	if jobID == "" || resp["task_id"] != jobID || resp["queue"] != "derivatives" {
		t.Fatalf("unexpected response %v", resp)
	}

	if len(enq.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(enq.payloads))
	}
	payload := enq.payloads[0]
	if payload.Request.Bags[0] != "Smith_1800" || payload.Request.Filter != domain.DefaultFilter {
		t.Fatalf("request was not normalized: %+v", payload.Request)
	}

	job, ok, err := jobs.Get(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("expected stored job, ok=%v err=%v", ok, err)
	}
	if job.UserID != "user-1" || job.Status != domain.JobStatusQueued {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestCreateDerivativesValidation(t *testing.T) {
	cases := map[string]string{
		"malformed":      `{"bags":`,
		"unknown field":  `{"bags":["a"],"format":"jpeg","colour":"red"}`,
		"no bags":        `{"bags":[],"format":"jpeg"}`,
		"no format":      `{"bags":["a"]}`,
		"bad filter":     `{"bags":["a"],"format":"jpeg","filter":"blur"}`,
		"zero scale":     `{"bags":["a"],"format":"jpeg","scale":0}`,
		"inverted crop":  `{"bags":["a"],"format":"jpeg","crop":[10,10,5,5]}`,
		"bad style":      `{"bags":["a"],"format":"jpeg","source_style":"ftp"}`,
		"trailing value": `{"bags":["a"],"format":"jpeg"}{}`,
	}
	for name, body := range cases {
		enq := &fakeEnqueuer{}
		srv, _ := newTestServer(enq, nil)
		rec := post(t, srv.Handler(), body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", name, rec.Code, rec.Body.String())
		}
		if len(enq.payloads) != 0 {
			t.Fatalf("%s: nothing should be enqueued", name)
		}
	}
}

func TestCreateDerivativesEnqueueFailureMarksJobFailed(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	srv, _ := newTestServer(enq, nil)

	rec := post(t, srv.Handler(), `{"bags":["a"],"format":"jpeg"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRateLimitChargesOneTokenPerBag(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 7}}
	srv, _ := newTestServer(&fakeEnqueuer{}, limiter)

	rec := post(t, srv.Handler(), `{"bags":["a","b","c"],"format":"jpeg"}`, map[string]string{"X-User-ID": "user-1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "7" {
		t.Fatalf("unexpected remaining header %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if len(limiter.costs) != 1 || limiter.costs[0] != 3 {
		t.Fatalf("expected cost 3, got %v", limiter.costs)
	}
	if limiter.subjects[0] != "user-1:/v1/derivatives" {
		t.Fatalf("unexpected subject %q", limiter.subjects[0])
	}
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}}
	enq := &fakeEnqueuer{}
	srv, _ := newTestServer(enq, limiter)

	rec := post(t, srv.Handler(), `{"bags":["a"],"format":"jpeg"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("unexpected Retry-After %q", got)
	}
	if len(enq.payloads) != 0 {
		t.Fatal("rejected request must not be enqueued")
	}
	if limiter.subjects[0] != "anonymous:/v1/derivatives" {
		t.Fatalf("unexpected subject %q", limiter.subjects[0])
	}
}

func TestRateLimitOversizedRequest(t *testing.T) {
	limiter := &fakeLimiter{err: ratelimit.ErrCostExceedsCapacity}
	srv, _ := newTestServer(&fakeEnqueuer{}, limiter)

	rec := post(t, srv.Handler(), `{"bags":["a","b"],"format":"jpeg"}`, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis unavailable")}
	srv, _ := newTestServer(&fakeEnqueuer{}, limiter)

	rec := post(t, srv.Handler(), `{"bags":["a"],"format":"jpeg"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 when limiter errors, got %d", rec.Code)
	}
}

func TestGetDerivatives(t *testing.T) {
	srv, jobs := newTestServer(&fakeEnqueuer{}, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = jobs.Create(ctx, domain.Job{ID: "job-1", Status: domain.JobStatusQueued, CreatedAt: now, UpdatedAt: now})
	_, _ = jobs.SaveResult(ctx, "job-1", domain.JobStatusSucceeded, &domain.TaskResult{TaskID: "job-1", Tag: "jpeg_100"}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/derivatives/job-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var job domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded || job.Result == nil || job.Result.Tag != "jpeg_100" {
		t.Fatalf("unexpected job %+v", job)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/derivatives/missing", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _ := newTestServer(&fakeEnqueuer{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "imageq_api_requests_total") {
		t.Fatal("expected request counter in metrics output")
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/derivatives":     "/v1/derivatives",
		"/v1/derivatives/abc": "/v1/derivatives/{id}",
		"/healthz":            "/healthz",
		"/metrics":            "/metrics",
		"/unknown":            "/unknown",
	}
	for in, want := range cases {
		if got := routeLabel(in); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
