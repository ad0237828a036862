package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

const jobColumns = `id, queue, payload, attempts, max_attempts,
	available_at, reserved_at, stalls, last_error, created_at`

// EnqueueJob inserts a new record.
func (s *Store) EnqueueJob(ctx context.Context, r *job.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID.String(), r.Queue, r.Payload, r.Attempts, r.MaxAttempts,
		r.AvailableAt.UTC(), r.ReservedAt, r.Stalls, r.LastError, r.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext atomically reserves the oldest claimable record. The inner
// SELECT locks the row with SKIP LOCKED so concurrent claimants move on
// to the next candidate instead of waiting.
func (s *Store) ClaimNext(ctx context.Context, queues []string, now time.Time) (*job.Record, error) {
	args := []any{now.UTC()}
	filter := "reserved_at IS NULL AND available_at <= $1"
	if len(queues) > 0 {
		args = append(args, queues)
		filter += " AND queue = ANY($2)"
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_jobs
		SET reserved_at = $1
		WHERE id = (
			SELECT id FROM conveyor_jobs
			WHERE `+filter+`
			ORDER BY available_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		args...,
	)

	r, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("conveyor/postgres: claim job: %w", err)
	}
	return r, nil
}

// ReleaseJob clears the reservation without counting an attempt.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_jobs SET reserved_at = NULL WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// RequeueJob clears the reservation, counts the attempt, and reschedules.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, availableAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET reserved_at = NULL, attempts = attempts + 1, available_at = $2, last_error = $3
		WHERE id = $1`,
		jobID.String(), availableAt.UTC(), lastErr,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ReapStalled bumps the stall counter of every reservation older than
// cutoff in one statement. Records within maxStalls come back released;
// the rest keep a fresh reservation at now.
func (s *Store) ReapStalled(ctx context.Context, cutoff, now time.Time, maxStalls int) (released, exhausted []*job.Record, err error) {
	rows, err := s.pool.Query(ctx, `
		WITH stalled AS (
			SELECT id FROM conveyor_jobs
			WHERE reserved_at IS NOT NULL AND reserved_at < $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE conveyor_jobs AS j
		SET stalls = j.stalls + 1,
		    reserved_at = CASE WHEN j.stalls + 1 <= $3 THEN NULL ELSE $2::timestamptz END
		FROM stalled
		WHERE j.id = stalled.id
		RETURNING j.id, j.queue, j.payload, j.attempts, j.max_attempts,
			j.available_at, j.reserved_at, j.stalls, j.last_error, j.created_at`,
		cutoff.UTC(), now.UTC(), maxStalls,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("conveyor/postgres: reap stalled: %w", err)
	}
	defer rows.Close()

	recs, err := collectJobs(rows)
	if err != nil {
		return nil, nil, err
	}
	job.SortByAvailability(recs)
	for _, r := range recs {
		if r.ReservedAt == nil {
			released = append(released, r)
		} else {
			exhausted = append(exhausted, r)
		}
	}
	return released, exhausted, nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`,
		jobID.String(),
	)
	r, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return r, nil
}

// ListJobs returns records ordered by AvailableAt.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Record, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	w := &where{}
	if opts.Queue != "" {
		w.add("queue = $%d", opts.Queue)
	}
	switch opts.Status {
	case job.StatusPending:
		w.add("reserved_at IS NULL AND available_at <= $%d", now.UTC())
	case job.StatusDelayed:
		w.add("reserved_at IS NULL AND available_at > $%d", now.UTC())
	case job.StatusReserved:
		w.conds = append(w.conds, "reserved_at IS NOT NULL")
	}

	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs` + w.String() +
		` ORDER BY available_at ASC, id ASC`
	query += w.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns per-status counts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (job.Counts, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	w := &where{args: []any{now.UTC()}}
	if opts.Queue != "" {
		w.add("queue = $%d", opts.Queue)
	}

	var c job.Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE reserved_at IS NULL AND available_at <= $1),
			COUNT(*) FILTER (WHERE reserved_at IS NULL AND available_at > $1),
			COUNT(*) FILTER (WHERE reserved_at IS NOT NULL)
		FROM conveyor_jobs`+w.String(),
		w.args...,
	).Scan(&c.Pending, &c.Delayed, &c.Reserved)
	if err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return c, nil
}

// scanJob scans a single record row.
func scanJob(row pgx.Row) (*job.Record, error) {
	var (
		r     job.Record
		idStr string
	)
	err := row.Scan(
		&idStr, &r.Queue, &r.Payload, &r.Attempts, &r.MaxAttempts,
		&r.AvailableAt, &r.ReservedAt, &r.Stalls, &r.LastError, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID
	r.AvailableAt = r.AvailableAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	if r.ReservedAt != nil {
		t := r.ReservedAt.UTC()
		r.ReservedAt = &t
	}
	return &r, nil
}

// collectJobs collects all records from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Record, error) {
	var recs []*job.Record
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return recs, nil
}
