package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobEnqueued(context.Context, *job.Record) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *allHooksExt) OnJobClaimed(context.Context, *job.Record) error {
	e.calls = append(e.calls, "OnJobClaimed")
	return nil
}

func (e *allHooksExt) OnJobSucceeded(context.Context, *job.Record, time.Duration) error {
	e.calls = append(e.calls, "OnJobSucceeded")
	return nil
}

func (e *allHooksExt) OnJobRetrying(context.Context, *job.Record, int, time.Time, error) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobDeadLettered(context.Context, *job.Record, error) error {
	e.calls = append(e.calls, "OnJobDeadLettered")
	return nil
}

func (e *allHooksExt) OnJobReleased(context.Context, *job.Record) error {
	e.calls = append(e.calls, "OnJobReleased")
	return nil
}

func (e *allHooksExt) OnJobReaped(context.Context, *job.Record, bool) error {
	e.calls = append(e.calls, "OnJobReaped")
	return nil
}

func (e *allHooksExt) OnScheduleExecuted(context.Context, string, time.Time, time.Duration, error) error {
	e.calls = append(e.calls, "OnScheduleExecuted")
	return nil
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// enqueueOnlyExt implements a single hook.
type enqueueOnlyExt struct {
	calls []string
}

func (e *enqueueOnlyExt) Name() string { return "enqueue-only" }

func (e *enqueueOnlyExt) OnJobEnqueued(context.Context, *job.Record) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobEnqueued(context.Context, *job.Record) error {
	return errors.New("boom")
}

func TestRegistry_Register(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(nil)
	all := &allHooksExt{}
	one := &enqueueOnlyExt{}
	r.Register(all)
	r.Register(one)

	ctx := context.Background()
	rec := &job.Record{Queue: "default"}

	r.EmitJobEnqueued(ctx, rec)
	r.EmitJobClaimed(ctx, rec)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls, got %v", all.calls)
	}
	if len(one.calls) != 1 || one.calls[0] != "OnJobEnqueued" {
		t.Fatalf("enqueue-only: expected [OnJobEnqueued], got %v", one.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	rec := &job.Record{}
	boom := errors.New("boom")

	r.EmitJobEnqueued(ctx, rec)
	r.EmitJobClaimed(ctx, rec)
	r.EmitJobSucceeded(ctx, rec, time.Second)
	r.EmitJobRetrying(ctx, rec, 1, time.Now(), boom)
	r.EmitJobDeadLettered(ctx, rec, boom)
	r.EmitJobReleased(ctx, rec)
	r.EmitJobReaped(ctx, rec, false)
	r.EmitScheduleExecuted(ctx, "digest", time.Now(), time.Millisecond, nil)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobEnqueued", "OnJobClaimed", "OnJobSucceeded",
		"OnJobRetrying", "OnJobDeadLettered", "OnJobReleased",
		"OnJobReaped", "OnScheduleExecuted", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(&failingExt{})
	r.Register(all)

	r.EmitJobEnqueued(context.Background(), &job.Record{})

	if len(all.calls) != 1 || all.calls[0] != "OnJobEnqueued" {
		t.Fatalf("expected [OnJobEnqueued] despite failing extension, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	r.EmitJobEnqueued(ctx, &job.Record{})
	r.EmitJobClaimed(ctx, &job.Record{})
	r.EmitJobSucceeded(ctx, &job.Record{}, time.Second)
	r.EmitJobRetrying(ctx, &job.Record{}, 1, time.Now(), errors.New("x"))
	r.EmitJobDeadLettered(ctx, &job.Record{}, errors.New("x"))
	r.EmitJobReleased(ctx, &job.Record{})
	r.EmitJobReaped(ctx, &job.Record{}, true)
	r.EmitScheduleExecuted(ctx, "x", time.Now(), 0, nil)
	r.EmitShutdown(ctx)
}
