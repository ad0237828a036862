package worker

import (
	"log/slog"
	"testing"
	"time"
)

func TestPollDelay(t *testing.T) {
	p := NewPool(nil, nil, nil, slog.Default(), WithPollInterval(100*time.Millisecond, time.Second))

	tests := []struct {
		misses int
		want   time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		got := p.pollDelay(tt.misses)
		lo := time.Duration(float64(tt.want) * 0.8)
		hi := time.Duration(float64(tt.want) * 1.2)
		if got < lo || got > hi {
			t.Errorf("pollDelay(%d) = %v, want within [%v, %v]", tt.misses, got, lo, hi)
		}
	}
}

func TestNewPool_MaxPollNeverBelowBase(t *testing.T) {
	p := NewPool(nil, nil, nil, slog.Default(), WithPollInterval(time.Second, 0))
	if p.maxPollInterval != time.Second {
		t.Errorf("maxPollInterval = %v, want %v", p.maxPollInterval, time.Second)
	}
}
