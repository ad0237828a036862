package schedule

import (
	"fmt"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conveyor"
)

// Rate is the interval between runs of a recurring job, in minutes. Only
// the values declared below are valid.
type Rate int

const (
	EveryMinute         Rate = 1
	EveryTwoMinutes     Rate = 2
	EveryFiveMinutes    Rate = 5
	EveryTenMinutes     Rate = 10
	EveryFifteenMinutes Rate = 15
	EveryThirtyMinutes  Rate = 30
)

var rateNames = map[Rate]string{
	EveryMinute:         "Every.Minute",
	EveryTwoMinutes:     "Every.TwoMinutes",
	EveryFiveMinutes:    "Every.FiveMinutes",
	EveryTenMinutes:     "Every.TenMinutes",
	EveryFifteenMinutes: "Every.FifteenMinutes",
	EveryThirtyMinutes:  "Every.ThirtyMinutes",
}

// Rates returns every valid rate in ascending order.
func Rates() []Rate {
	return []Rate{
		EveryMinute, EveryTwoMinutes, EveryFiveMinutes,
		EveryTenMinutes, EveryFifteenMinutes, EveryThirtyMinutes,
	}
}

// ParseRate accepts a rate name such as "Every.FiveMinutes" (case
// insensitive) or a Go duration equal to a valid rate such as "5m".
// Anything else returns an error wrapping conveyor.ErrInvalidRate.
func ParseRate(s string) (Rate, error) {
	trimmed := strings.TrimSpace(s)
	for r, name := range rateNames {
		if strings.EqualFold(trimmed, name) {
			return r, nil
		}
	}
	if d, err := time.ParseDuration(trimmed); err == nil && d%time.Minute == 0 {
		if r := Rate(d / time.Minute); r.Valid() {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", conveyor.ErrInvalidRate, s)
}

// Valid reports whether r is one of the declared rates.
func (r Rate) Valid() bool {
	_, ok := rateNames[r]
	return ok
}

// Duration returns the interval as a time.Duration.
func (r Rate) Duration() time.Duration {
	return time.Duration(r) * time.Minute
}

// Schedule returns the cron schedule stepping by r.
func (r Rate) Schedule() cronlib.ConstantDelaySchedule {
	return cronlib.Every(r.Duration())
}

// String returns the rate's name, or a diagnostic form when invalid.
func (r Rate) String() string {
	if name, ok := rateNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Rate(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Rate) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d minutes", conveyor.ErrInvalidRate, int(r))
	}
	return []byte(rateNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rate) UnmarshalText(data []byte) error {
	parsed, err := ParseRate(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
