package schedule

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xraph/conveyor"
)

// TimeLayout is how ledger times are written: RFC 3339, UTC, milliseconds.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is the ledger's record for one recurring job.
type Entry struct {
	JobName string
	Rate    Rate
	Path    string
	// Times are the upcoming run times, ascending.
	Times []time.Time
}

type entryJSON struct {
	JobName string   `json:"jobName"`
	Rate    Rate     `json:"rate"`
	Times   []string `json:"times"`
	Path    string   `json:"path"`
}

// MarshalJSON writes the ledger wire form.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		JobName: e.JobName,
		Rate:    e.Rate,
		Times:   make([]string, len(e.Times)),
		Path:    e.Path,
	}
	for i, t := range e.Times {
		out.Times[i] = t.UTC().Format(TimeLayout)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the ledger wire form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.JobName == "" {
		return fmt.Errorf("%w: entry without jobName", conveyor.ErrLedgerCorrupt)
	}
	times := make([]time.Time, len(in.Times))
	for i, s := range in.Times {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("%w: job %q: %w", conveyor.ErrLedgerCorrupt, in.JobName, err)
		}
		times[i] = t.UTC()
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	*e = Entry{JobName: in.JobName, Rate: in.Rate, Path: in.Path, Times: times}
	return nil
}

// Next returns the earliest planned time.
func (e Entry) Next() (time.Time, bool) {
	if len(e.Times) == 0 {
		return time.Time{}, false
	}
	return e.Times[0], true
}

// Clone returns a copy of e that shares no memory with it.
func (e Entry) Clone() Entry {
	e.Times = slices.Clone(e.Times)
	return e
}

// EncodeLedger serializes entries sorted by job name, so an unchanged
// ledger always encodes to the same bytes.
func EncodeLedger(entries []Entry) ([]byte, error) {
	sorted := slices.Clone(entries)
	sortEntries(sorted)
	if sorted == nil {
		sorted = []Entry{}
	}
	return json.MarshalIndent(sorted, "", "  ")
}

// DecodeLedger parses a serialized ledger. Empty input is an empty
// ledger; anything unparseable returns an error wrapping
// conveyor.ErrLedgerCorrupt.
func DecodeLedger(data []byte) ([]Entry, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", conveyor.ErrLedgerCorrupt, err)
	}
	return mergeDuplicates(entries), nil
}

// mergeDuplicates folds entries sharing a job name into the first of
// them, keeping the sorted union of their times. The result is sorted by
// job name.
func mergeDuplicates(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	sortEntries(entries)
	out := entries[:1]
	for _, e := range entries[1:] {
		last := &out[len(out)-1]
		if e.JobName != last.JobName {
			out = append(out, e)
			continue
		}
		last.Times = append(last.Times, e.Times...)
		slices.SortFunc(last.Times, func(a, b time.Time) int { return a.Compare(b) })
		last.Times = slices.CompactFunc(last.Times, time.Time.Equal)
	}
	return out
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].JobName < entries[j].JobName
	})
}
