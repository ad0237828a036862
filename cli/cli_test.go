package cli_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/xraph/conveyor/cli"
	"github.com/xraph/conveyor/engine"
	"github.com/xraph/conveyor/schedule"
	"github.com/xraph/conveyor/store/memory"
)

func run(t *testing.T, s *memory.Store, setup cli.SetupFunc, args ...string) (string, error) {
	t.Helper()
	opts := []cli.Option{cli.WithStore(s)}
	if setup != nil {
		opts = append(opts, cli.WithSetup(setup))
	}
	cmd := cli.Command(opts...)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--ledger", t.TempDir() + "/ledger.json"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func handlers(eng *engine.Engine) error {
	eng.RegisterHandler("ok", func(context.Context, []byte) error { return nil })
	eng.RegisterHandler("boom", func(context.Context, []byte) error { return errors.New("boom") })
	return nil
}

func TestEnqueueAndStatus(t *testing.T) {
	s := memory.New()

	out, err := run(t, s, nil, "enqueue", "ok", "--params", `{"a":1}`)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "enqueued on default") {
		t.Errorf("enqueue output = %q", out)
	}
	if _, err := run(t, s, nil, "enqueue", "ok", "--queue", "mail", "--delay", "1h"); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	out, err = run(t, s, nil, "status", "default", "mail")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("status output = %q, want header, two queues, a total and the health line", out)
	}
	if lines[5] != "health: healthy" {
		t.Errorf("health line = %q", lines[5])
	}
	if f := strings.Fields(lines[1]); f[0] != "default" || f[1] != "1" {
		t.Errorf("default row = %q", lines[1])
	}
	if f := strings.Fields(lines[2]); f[0] != "mail" || f[3] != "1" {
		t.Errorf("mail row = %q", lines[2])
	}
}

func TestStatus_ReportsUnhealthyErrorRate(t *testing.T) {
	s := memory.New()
	if _, err := run(t, s, handlers, "enqueue", "boom", "--max-attempts", "1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := run(t, s, handlers, "work", "--once"); err != nil {
		t.Fatalf("work --once: %v", err)
	}

	out, err := run(t, s, handlers, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "health: unhealthy") {
		t.Errorf("status output = %q, want unhealthy", out)
	}
	if !strings.Contains(out, "[critical] error rate is 100.0%") {
		t.Errorf("status output = %q, want the error rate alert", out)
	}
}

func TestEnqueue_InvalidParams(t *testing.T) {
	if _, err := run(t, memory.New(), nil, "enqueue", "ok", "--params", "{"); err == nil {
		t.Fatal("expected error for invalid JSON params")
	}
}

func TestWorkOnce(t *testing.T) {
	s := memory.New()
	for range 3 {
		if _, err := run(t, s, nil, "enqueue", "ok"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	out, err := run(t, s, handlers, "work", "--once")
	if err != nil {
		t.Fatalf("work: %v", err)
	}
	if !strings.Contains(out, "processed 3 job(s)") {
		t.Errorf("work output = %q", out)
	}
}

func TestFailedLifecycle(t *testing.T) {
	s := memory.New()
	if _, err := run(t, s, nil, "enqueue", "boom", "--max-attempts", "1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := run(t, s, handlers, "work", "--once"); err != nil {
		t.Fatalf("work: %v", err)
	}

	out, err := run(t, s, nil, "failed", "list")
	if err != nil {
		t.Fatalf("failed list: %v", err)
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("failed list = %q", out)
	}

	if _, err := run(t, s, nil, "failed", "retry"); err == nil {
		t.Error("retry without IDs or --all should fail")
	}
	out, err = run(t, s, nil, "failed", "retry", "--all")
	if err != nil {
		t.Fatalf("failed retry --all: %v", err)
	}
	if !strings.Contains(out, "retried as job_") {
		t.Errorf("retry output = %q", out)
	}

	// Fail it again, then flush.
	if _, err := run(t, s, handlers, "work", "--once"); err != nil {
		t.Fatalf("work: %v", err)
	}
	out, err = run(t, s, nil, "failed", "flush")
	if err != nil {
		t.Fatalf("failed flush: %v", err)
	}
	if !strings.Contains(out, "flushed 1 failed job(s)") {
		t.Errorf("flush output = %q", out)
	}
	out, _ = run(t, s, nil, "failed", "list")
	if !strings.Contains(out, "no failed jobs") {
		t.Errorf("failed list after flush = %q", out)
	}
}

func TestFailedDelete_InvalidID(t *testing.T) {
	if _, err := run(t, memory.New(), nil, "failed", "delete", "nope"); err == nil {
		t.Fatal("expected error for invalid ID")
	}
}

func TestScheduleRunOnce(t *testing.T) {
	s := memory.New()
	setup := func(eng *engine.Engine) error {
		eng.RegisterSchedule(schedule.Definition{
			Name:    "digest",
			Rate:    "Every.TenMinutes",
			Handler: func(context.Context) error { return nil },
		})
		return nil
	}

	if _, err := run(t, s, setup, "--store-ledger", "schedule:run", "--once"); err != nil {
		t.Fatalf("schedule:run: %v", err)
	}
	entries, err := s.LoadLedger(context.Background())
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Times) != 10 {
		t.Fatalf("ledger = %+v", entries)
	}

	out, err := run(t, s, setup, "--store-ledger", "schedule:status")
	if err != nil {
		t.Fatalf("schedule:status: %v", err)
	}
	if !strings.Contains(out, "digest") || !strings.Contains(out, "Every.TenMinutes") {
		t.Errorf("status = %q", out)
	}
}

func TestInvalidLogFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--log-format", "xml", "status"},
		{"--log-level", "loud", "status"},
	} {
		if _, err := run(t, memory.New(), nil, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestSetupError(t *testing.T) {
	want := errors.New("no handlers")
	_, err := run(t, memory.New(), func(*engine.Engine) error { return want }, "status")
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestWorkOnce_WithAudit(t *testing.T) {
	s := memory.New()
	if _, err := run(t, s, nil, "enqueue", "ok"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	out, err := run(t, s, handlers, "--audit", "work", "--once")
	if err != nil {
		t.Fatalf("work: %v", err)
	}
	if !strings.Contains(out, "processed 1 job(s)") {
		t.Errorf("work output = %q", out)
	}
}
