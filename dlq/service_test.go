package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store/memory"
)

func newFailedRecord(t *testing.T, name, queue string) *job.Record {
	t.Helper()
	r, err := job.New(name, []byte(`{"to":"alice@example.com"}`), time.Now(), job.WithQueue(queue))
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	r.Attempts = 2
	return r
}

func TestService_Push_SnapshotsRecord(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	r := newFailedRecord(t, "send-email", "emails")
	if err := svc.Push(ctx, r, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListFailed(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.OriginalJobID != r.ID {
		t.Errorf("OriginalJobID = %v, want %v", e.OriginalJobID, r.ID)
	}
	if e.JobName != "send-email" {
		t.Errorf("JobName = %q, want %q", e.JobName, "send-email")
	}
	if e.Queue != "emails" {
		t.Errorf("Queue = %q, want %q", e.Queue, "emails")
	}
	if string(e.Payload) != string(r.Payload) {
		t.Errorf("Payload = %q, want %q", e.Payload, r.Payload)
	}
	if e.Exception != "smtp timeout" {
		t.Errorf("Exception = %q, want %q", e.Exception, "smtp timeout")
	}
	if e.Attempts != 2 || e.MaxAttempts != job.DefaultMaxAttempts {
		t.Errorf("Attempts = %d/%d", e.Attempts, e.MaxAttempts)
	}
	if e.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if e.ID.Prefix() != id.PrefixFailedJob {
		t.Errorf("ID prefix = %q", e.ID.Prefix())
	}
}

func TestService_Retry_ReenqueuesFreshRecord(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	original := newFailedRecord(t, "replay-me", "default")
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, err := s.ListFailed(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}

	rec, err := svc.Retry(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if rec.ID == original.ID {
		t.Error("retried record should have a new ID")
	}
	if rec.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", rec.Attempts)
	}
	if string(rec.Payload) != string(original.Payload) {
		t.Errorf("Payload = %q, want %q", rec.Payload, original.Payload)
	}

	claimed, err := s.ClaimNext(ctx, []string{"default"}, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != rec.ID {
		t.Errorf("claimed %s, want %s", claimed.ID, rec.ID)
	}

	if n, _ := s.CountFailed(ctx, ""); n != 0 {
		t.Errorf("entry should be removed after retry, count = %d", n)
	}
}

func TestService_Retry_NotFound(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	_, err := svc.Retry(context.Background(), id.NewFailedJobID())
	if !errors.Is(err, conveyor.ErrFailedJobNotFound) {
		t.Fatalf("Retry = %v, want ErrFailedJobNotFound", err)
	}
}

func TestService_RetryAllAndFlush(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	for _, q := range []string{"a", "a", "b", "c"} {
		if err := svc.Push(ctx, newFailedRecord(t, "job-"+q, q), errors.New("fail")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	recs, err := svc.RetryAll(ctx, "a")
	if err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("RetryAll re-enqueued %d, want 2", len(recs))
	}
	if n, _ := s.CountFailed(ctx, ""); n != 2 {
		t.Errorf("CountFailed = %d, want 2", n)
	}

	n, err := svc.Flush(ctx, "")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 2 {
		t.Errorf("Flush = %d, want 2", n)
	}
	if n, _ := svc.Store().CountFailed(ctx, ""); n != 0 {
		t.Errorf("CountFailed after flush = %d", n)
	}
}
