package schedule_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/schedule"
)

func TestFileLedger_MissingFileIsEmpty(t *testing.T) {
	l := schedule.NewFileLedger(filepath.Join(t.TempDir(), "nope", "ledger.json"), nil)
	entries, err := l.LoadLedger(context.Background())
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty ledger, got %d entries", len(entries))
	}
}

func TestFileLedger_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scheduler", "ledger.json")
	l := schedule.NewFileLedger(path, nil)

	t0 := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	in := []schedule.Entry{
		{JobName: "zeta", Rate: schedule.EveryMinute, Path: "app/Jobs/Zeta.ts", Times: []time.Time{t0, t0.Add(time.Minute)}},
		{JobName: "alpha", Rate: schedule.EveryThirtyMinutes, Times: []time.Time{t0.Add(30 * time.Minute)}},
	}
	if err := l.SaveLedger(ctx, in); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}

	out, err := l.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	if out[0].JobName != "alpha" || out[1].JobName != "zeta" {
		t.Errorf("entries not sorted by name: %q, %q", out[0].JobName, out[1].JobName)
	}
	if out[1].Rate != schedule.EveryMinute || out[1].Path != "app/Jobs/Zeta.ts" {
		t.Errorf("zeta = %+v", out[1])
	}
	if len(out[1].Times) != 2 || !out[1].Times[1].Equal(t0.Add(time.Minute)) {
		t.Errorf("zeta times = %v", out[1].Times)
	}

	// No temp files left behind.
	files, _ := os.ReadDir(filepath.Dir(path))
	if len(files) != 1 {
		t.Errorf("expected only the ledger file, found %d entries", len(files))
	}
}

func TestFileLedger_WireFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := schedule.NewFileLedger(path, nil)

	t0 := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	err := l.SaveLedger(ctx, []schedule.Entry{
		{JobName: "report", Rate: schedule.EveryFiveMinutes, Path: "jobs/report", Times: []time.Time{t0}},
	})
	if err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{
		`"jobName": "report"`,
		`"rate": "Every.FiveMinutes"`,
		`"2026-05-04T10:00:00.000Z"`,
		`"path": "jobs/report"`,
	} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("ledger file missing %s:\n%s", want, data)
		}
	}
}

func TestFileLedger_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte(`[{"jobName": "x", "rate": `), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := schedule.NewFileLedger(path, nil).LoadLedger(context.Background())
	if !errors.Is(err, conveyor.ErrLedgerCorrupt) {
		t.Fatalf("LoadLedger error = %v, want ErrLedgerCorrupt", err)
	}
}

func TestDecodeLedger_UnknownRateIsCorrupt(t *testing.T) {
	_, err := schedule.DecodeLedger([]byte(`[{"jobName":"x","rate":"Every.Hour","times":[],"path":""}]`))
	if !errors.Is(err, conveyor.ErrLedgerCorrupt) {
		t.Fatalf("DecodeLedger error = %v, want ErrLedgerCorrupt", err)
	}
}

func TestEncodeLedger_Stable(t *testing.T) {
	t0 := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	entries := []schedule.Entry{
		{JobName: "b", Rate: schedule.EveryMinute, Times: []time.Time{t0}},
		{JobName: "a", Rate: schedule.EveryMinute, Times: []time.Time{t0}},
	}
	first, err := schedule.EncodeLedger(entries)
	if err != nil {
		t.Fatalf("EncodeLedger: %v", err)
	}
	decoded, err := schedule.DecodeLedger(first)
	if err != nil {
		t.Fatalf("DecodeLedger: %v", err)
	}
	second, err := schedule.EncodeLedger(decoded)
	if err != nil {
		t.Fatalf("EncodeLedger: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("re-encoding changed the ledger:\n%s\n%s", first, second)
	}
	if entries[0].JobName != "b" {
		t.Error("EncodeLedger reordered the caller's slice")
	}
}

func TestDecodeLedger_MergesDuplicateNames(t *testing.T) {
	t0 := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	data, err := schedule.EncodeLedger([]schedule.Entry{
		{JobName: "b", Rate: schedule.EveryTwoMinutes, Times: []time.Time{t0.Add(4 * time.Minute), t0.Add(2 * time.Minute)}},
		{JobName: "a", Rate: schedule.EveryMinute, Times: []time.Time{t0}},
		{JobName: "b", Rate: schedule.EveryTwoMinutes, Times: []time.Time{t0.Add(2 * time.Minute), t0.Add(6 * time.Minute)}},
	})
	if err != nil {
		t.Fatalf("EncodeLedger: %v", err)
	}

	entries, err := schedule.DecodeLedger(data)
	if err != nil {
		t.Fatalf("DecodeLedger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	b := entries[1]
	if b.JobName != "b" {
		t.Fatalf("entries[1] = %q, want b", b.JobName)
	}
	want := []time.Time{t0.Add(2 * time.Minute), t0.Add(4 * time.Minute), t0.Add(6 * time.Minute)}
	if len(b.Times) != len(want) {
		t.Fatalf("b times = %v, want %v", b.Times, want)
	}
	for i := range want {
		if !b.Times[i].Equal(want[i]) {
			t.Errorf("b times[%d] = %v, want %v", i, b.Times[i], want[i])
		}
	}
}
