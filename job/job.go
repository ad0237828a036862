package job

import (
	"sort"
	"time"

	"github.com/xraph/conveyor/id"
)

// DefaultQueue is the queue a record lands in when none is given.
const DefaultQueue = "default"

// DefaultMaxAttempts is the attempt budget of a record when none is given.
const DefaultMaxAttempts = 3

// Status is the derived state of a record at a given instant.
type Status string

const (
	// StatusPending means the record is unreserved and claimable now.
	StatusPending Status = "pending"
	// StatusDelayed means the record is unreserved but not yet available.
	StatusDelayed Status = "delayed"
	// StatusReserved means exactly one worker currently owns the record.
	StatusReserved Status = "reserved"
)

// Record is a one-off unit of work waiting in, or owned from, a queue.
//
// A record carries no stored status field. Whether it is pending, delayed,
// or reserved is computed from AvailableAt and ReservedAt by StatusAt.
type Record struct {
	ID          id.JobID   `json:"id"`
	Queue       string     `json:"queue"`
	Payload     []byte     `json:"payload"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	AvailableAt time.Time  `json:"available_at"`
	ReservedAt  *time.Time `json:"reserved_at,omitempty"`
	Stalls      int        `json:"stalls"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// StatusAt returns the status of r at now.
func StatusAt(r *Record, now time.Time) Status {
	switch {
	case r.ReservedAt != nil:
		return StatusReserved
	case r.AvailableAt.After(now):
		return StatusDelayed
	default:
		return StatusPending
	}
}

// Claimable reports whether r may be claimed at now.
func (r *Record) Claimable(now time.Time) bool {
	return StatusAt(r, now) == StatusPending
}

// Name returns the handler name carried in the payload descriptor, or an
// empty string when the payload is not a descriptor.
func (r *Record) Name() string {
	d, err := DecodeDescriptor(r.Payload)
	if err != nil {
		return ""
	}
	return d.Name
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	cp := *r
	if r.ReservedAt != nil {
		t := *r.ReservedAt
		cp.ReservedAt = &t
	}
	if r.Payload != nil {
		cp.Payload = append([]byte(nil), r.Payload...)
	}
	return &cp
}

// Timeout returns the per-execution deadline carried in the payload
// descriptor. Zero means unlimited.
func (r *Record) Timeout() time.Duration {
	d, err := DecodeDescriptor(r.Payload)
	if err != nil || d.Timeout <= 0 {
		return 0
	}
	return time.Duration(d.Timeout) * time.Second
}

// Before orders records by AvailableAt, then by ID. IDs are K-sortable,
// so ties fall back to creation order.
func Before(a, b *Record) bool {
	if !a.AvailableAt.Equal(b.AvailableAt) {
		return a.AvailableAt.Before(b.AvailableAt)
	}
	return a.ID.String() < b.ID.String()
}

// SortByAvailability sorts rs in claim order.
func SortByAvailability(rs []*Record) {
	sort.Slice(rs, func(i, k int) bool { return Before(rs[i], rs[k]) })
}
