package schedule_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/schedule"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want schedule.Rate
	}{
		{"Every.Minute", schedule.EveryMinute},
		{"Every.TwoMinutes", schedule.EveryTwoMinutes},
		{"Every.FiveMinutes", schedule.EveryFiveMinutes},
		{"every.tenminutes", schedule.EveryTenMinutes},
		{" Every.FifteenMinutes ", schedule.EveryFifteenMinutes},
		{"Every.ThirtyMinutes", schedule.EveryThirtyMinutes},
		{"30m", schedule.EveryThirtyMinutes},
		{"1m0s", schedule.EveryMinute},
	}
	for _, tt := range tests {
		got, err := schedule.ParseRate(tt.in)
		if err != nil {
			t.Errorf("ParseRate(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseRate_Invalid(t *testing.T) {
	for _, in := range []string{"", "Every.Hour", "7m", "90s", "*/5 * * * *", "Every.SevenMinutes"} {
		if _, err := schedule.ParseRate(in); !errors.Is(err, conveyor.ErrInvalidRate) {
			t.Errorf("ParseRate(%q) error = %v, want ErrInvalidRate", in, err)
		}
	}
}

func TestRate_Schedule(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 30, 250*int(time.Millisecond), time.UTC)
	next := schedule.EveryFiveMinutes.Schedule().Next(start)
	want := time.Date(2026, 3, 1, 12, 5, 30, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestRate_TextRoundTrip(t *testing.T) {
	for _, r := range schedule.Rates() {
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", r, err)
		}
		var back schedule.Rate
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if back != r {
			t.Errorf("round trip %v = %v", r, back)
		}
	}

	if _, err := json.Marshal(schedule.Rate(7)); err == nil {
		t.Error("expected error marshaling an invalid rate")
	}
}
