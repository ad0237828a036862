package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ── Job model ─────────────────────────────────────────────────────

// jobModel always carries reserved_at, as null when unreserved, so that
// the claim filter and the reaper can match on it.
type jobModel struct {
	ID          string     `bson:"_id"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	AvailableAt time.Time  `bson:"available_at"`
	ReservedAt  *time.Time `bson:"reserved_at"`
	Stalls      int        `bson:"stalls"`
	LastError   string     `bson:"last_error"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func toJobModel(r *job.Record) *jobModel {
	return &jobModel{
		ID:          r.ID.String(),
		Queue:       r.Queue,
		Payload:     r.Payload,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		AvailableAt: r.AvailableAt.UTC(),
		ReservedAt:  r.ReservedAt,
		Stalls:      r.Stalls,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func fromJobModel(m *jobModel) (*job.Record, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse job id %q: %w", m.ID, err)
	}

	r := &job.Record{
		ID:          parsedID,
		Queue:       m.Queue,
		Payload:     m.Payload,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		AvailableAt: m.AvailableAt.UTC(),
		Stalls:      m.Stalls,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt.UTC(),
	}
	if m.ReservedAt != nil {
		t := m.ReservedAt.UTC()
		r.ReservedAt = &t
	}
	return r, nil
}

// ── Failed job model ──────────────────────────────────────────────

type failedModel struct {
	ID            string    `bson:"_id"`
	OriginalJobID string    `bson:"original_job_id"`
	JobName       string    `bson:"job_name"`
	Queue         string    `bson:"queue"`
	Payload       []byte    `bson:"payload"`
	Exception     string    `bson:"exception"`
	Attempts      int       `bson:"attempts"`
	MaxAttempts   int       `bson:"max_attempts"`
	FailedAt      time.Time `bson:"failed_at"`
}

func toFailedModel(e *dlq.Entry) *failedModel {
	return &failedModel{
		ID:            e.ID.String(),
		OriginalJobID: e.OriginalJobID.String(),
		JobName:       e.JobName,
		Queue:         e.Queue,
		Payload:       e.Payload,
		Exception:     e.Exception,
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		FailedAt:      e.FailedAt.UTC(),
	}
}

func fromFailedModel(m *failedModel) (*dlq.Entry, error) {
	eID, err := id.ParseFailedJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse failed job id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.OriginalJobID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse job id %q: %w", m.OriginalJobID, err)
	}
	return &dlq.Entry{
		ID:            eID,
		OriginalJobID: jobID,
		JobName:       m.JobName,
		Queue:         m.Queue,
		Payload:       m.Payload,
		Exception:     m.Exception,
		Attempts:      m.Attempts,
		MaxAttempts:   m.MaxAttempts,
		FailedAt:      m.FailedAt.UTC(),
	}, nil
}

// ── Ledger model ──────────────────────────────────────────────────

type ledgerModel struct {
	Name      string    `bson:"_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}
