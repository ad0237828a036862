package dlq

import (
	"time"

	"github.com/xraph/conveyor/id"
)

// Entry is an immutable snapshot of a job that failed terminally.
type Entry struct {
	ID            id.FailedJobID `json:"id"`
	OriginalJobID id.JobID       `json:"original_job_id"`
	JobName       string         `json:"job_name"`
	Queue         string         `json:"queue"`
	Payload       []byte         `json:"payload"`
	Exception     string         `json:"exception"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	FailedAt      time.Time      `json:"failed_at"`
}
