package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/api"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/engine"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/monitor"
	"github.com/xraph/conveyor/schedule"
	"github.com/xraph/conveyor/store/memory"
)

func setup(t *testing.T) (*engine.Engine, *memory.Store, http.Handler) {
	t.Helper()
	s := memory.New()
	c, err := conveyor.New(
		conveyor.WithStore(s),
		conveyor.WithQueues("default", "mail"),
		conveyor.WithLedgerPath(t.TempDir()+"/ledger.json"),
	)
	if err != nil {
		t.Fatalf("conveyor.New: %v", err)
	}
	eng, err := engine.Build(c, engine.WithBackoff(backoff.NewFixed(0)))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s, api.New(eng).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// deadLetter enqueues a job that always fails and drains it into the
// failed store.
func deadLetter(t *testing.T, eng *engine.Engine, queue string) {
	t.Helper()
	eng.RegisterHandler("broken", func(context.Context, []byte) error {
		return errors.New("broken")
	})
	ctx := context.Background()
	if _, err := eng.EnqueueRaw(ctx, "broken", nil, job.WithQueue(queue), job.WithMaxAttempts(1)); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if _, err := eng.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestEnqueueAndGetJob(t *testing.T) {
	_, _, h := setup(t)

	rec := do(t, h, http.MethodPost, "/v1/jobs", api.EnqueueRequest{
		Name:   "send-email",
		Params: json.RawMessage(`{"to":"a@example.com"}`),
		Queue:  "mail",
		Delay:  "1m",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	created := decode[job.Record](t, rec)
	if created.Queue != "mail" {
		t.Errorf("Queue = %q, want mail", created.Queue)
	}

	rec = do(t, h, http.MethodGet, "/v1/jobs/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[job.Record](t, rec)
	if got.ID.String() != created.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, created.ID)
	}

	rec = do(t, h, http.MethodGet, "/v1/jobs?status=delayed", nil)
	list := decode[[]job.Record](t, rec)
	if len(list) != 1 {
		t.Errorf("delayed jobs = %d, want 1", len(list))
	}

	rec = do(t, h, http.MethodGet, "/v1/jobs/counts?queue=mail", nil)
	counts := decode[job.Counts](t, rec)
	if counts.Delayed != 1 || counts.Total() != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	_, _, h := setup(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", api.EnqueueRequest{}},
		{"bad delay", api.EnqueueRequest{Name: "x", Delay: "soon"}},
		{"negative delay", api.EnqueueRequest{Name: "x", Delay: "-1s"}},
		{"not json", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/jobs", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetJob_Errors(t *testing.T) {
	_, _, h := setup(t)

	if rec := do(t, h, http.MethodGet, "/v1/jobs/not-an-id", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", rec.Code)
	}

	r, err := job.New("x", nil, time.Now())
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if rec := do(t, h, http.MethodGet, "/v1/jobs/"+r.ID.String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rec.Code)
	}
}

func TestListJobs_BadParams(t *testing.T) {
	_, _, h := setup(t)
	for _, path := range []string{
		"/v1/jobs?limit=-1",
		"/v1/jobs?offset=abc",
		"/v1/jobs?status=running",
	} {
		if rec := do(t, h, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestFailedJobs_ListRetryDelete(t *testing.T) {
	eng, s, h := setup(t)
	deadLetter(t, eng, "default")
	deadLetter(t, eng, "default")

	rec := do(t, h, http.MethodGet, "/v1/failed", nil)
	entries := decode[[]dlq.Entry](t, rec)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	rec = do(t, h, http.MethodGet, "/v1/failed/"+entries[0].ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[dlq.Entry](t, rec)
	if got.Exception != "broken" {
		t.Errorf("Exception = %q, want broken", got.Exception)
	}

	rec = do(t, h, http.MethodPost, "/v1/failed/"+entries[0].ID.String()+"/retry", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("retry status = %d, body = %s", rec.Code, rec.Body)
	}
	retried := decode[job.Record](t, rec)
	if retried.Attempts != 0 {
		t.Errorf("retried Attempts = %d, want 0", retried.Attempts)
	}

	rec = do(t, h, http.MethodDelete, "/v1/failed/"+entries[1].ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/v1/failed/"+entries[1].ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}

	n, err := s.CountFailed(context.Background(), "")
	if err != nil {
		t.Fatalf("CountFailed: %v", err)
	}
	if n != 0 {
		t.Errorf("failed = %d, want 0", n)
	}
}

func TestFailedJobs_RetryAllAndFlush(t *testing.T) {
	eng, _, h := setup(t)
	deadLetter(t, eng, "default")
	deadLetter(t, eng, "mail")

	rec := do(t, h, http.MethodGet, "/v1/failed/count?queue=mail", nil)
	if c := decode[api.CountResponse](t, rec); c.Count != 1 {
		t.Errorf("mail count = %d, want 1", c.Count)
	}

	rec = do(t, h, http.MethodPost, "/v1/failed/retry?queue=mail", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry all status = %d", rec.Code)
	}
	if resp := decode[api.RetryAllResponse](t, rec); len(resp.Retried) != 1 {
		t.Errorf("retried = %d, want 1", len(resp.Retried))
	}

	rec = do(t, h, http.MethodPost, "/v1/failed/flush", nil)
	if c := decode[api.CountResponse](t, rec); c.Count != 1 {
		t.Errorf("flushed = %d, want 1", c.Count)
	}
}

func TestStats(t *testing.T) {
	eng, _, h := setup(t)
	deadLetter(t, eng, "mail")
	if _, err := eng.EnqueueRaw(context.Background(), "later", nil, job.WithDelay(time.Hour)); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	rec := do(t, h, http.MethodGet, "/v1/stats", nil)
	s := decode[monitor.Stats](t, rec)
	if s.Delayed != 1 || s.Failed != 1 {
		t.Errorf("stats = %+v", s)
	}

	rec = do(t, h, http.MethodGet, "/v1/stats/queues", nil)
	per := decode[[]monitor.Stats](t, rec)
	if len(per) != 2 || per[0].Queue != "default" || per[1].Queue != "mail" {
		t.Fatalf("per-queue stats = %+v", per)
	}
	if per[1].Failed != 1 {
		t.Errorf("mail failed = %d, want 1", per[1].Failed)
	}
}

func TestHealth(t *testing.T) {
	eng, _, h := setup(t)

	rec := do(t, h, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decode[monitor.Health](t, rec); got.Status != monitor.Healthy || len(got.Queues) != 2 {
		t.Errorf("health = %+v", got)
	}

	deadLetter(t, eng, "mail")

	rec = do(t, h, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	got := decode[monitor.Health](t, rec)
	if got.Status != monitor.Unhealthy || got.ErrorRate != 1 || len(got.Alerts) != 1 {
		t.Errorf("health = %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/v1/health?queues=default", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("default only: status = %d, want 200", rec.Code)
	}
	if got := decode[monitor.Health](t, rec); len(got.Queues) != 1 || got.Queues[0].Queue != "default" {
		t.Errorf("default only: queues = %+v", got.Queues)
	}
}

func TestSchedules_ListAndTrigger(t *testing.T) {
	eng, _, h := setup(t)

	ran := make(chan struct{}, 1)
	eng.RegisterSchedule(schedule.Definition{
		Name: "cleanup",
		Rate: "Every.Minute",
		Handler: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})
	if err := eng.Scheduler().Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	rec := do(t, h, http.MethodGet, "/v1/schedules", nil)
	list := decode[[]schedule.EntryStatus](t, rec)
	if len(list) != 1 || list[0].JobName != "cleanup" || list[0].NextRun == nil {
		t.Fatalf("schedules = %+v", list)
	}

	rec = do(t, h, http.MethodPost, "/v1/schedules/cleanup/trigger", nil)
	if resp := decode[api.TriggerResponse](t, rec); !resp.OK {
		t.Errorf("trigger = %+v", resp)
	}
	select {
	case <-ran:
	default:
		t.Error("handler did not run")
	}

	rec = do(t, h, http.MethodPost, "/v1/schedules/unknown/trigger", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown trigger status = %d, want 404", rec.Code)
	}
}

func TestHandler_AccessLog(t *testing.T) {
	eng, _, _ := setup(t)
	var buf bytes.Buffer
	h := api.New(eng, api.WithAccessLog(&buf)).Handler()

	do(t, h, http.MethodGet, "/v1/stats", nil)
	if !strings.Contains(buf.String(), "GET /v1/stats") {
		t.Errorf("access log = %q", buf.String())
	}
}
