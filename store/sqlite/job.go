package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

const jobColumns = `id, queue, payload, attempts, max_attempts,
	available_at, reserved_at, stalls, last_error, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// EnqueueJob inserts a new record.
func (s *Store) EnqueueJob(ctx context.Context, r *job.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Queue, r.Payload, r.Attempts, r.MaxAttempts,
		toMillis(r.AvailableAt), nullMillis(r.ReservedAt), r.Stalls, r.LastError, toMillis(r.CreatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext reserves the oldest claimable record. The candidate is
// picked and reserved by one UPDATE ... RETURNING, and the guard on
// reserved_at makes the write a compare-and-set.
func (s *Store) ClaimNext(ctx context.Context, queues []string, now time.Time) (*job.Record, error) {
	nowMs := toMillis(now)
	w := &where{}
	w.add("reserved_at IS NULL")
	w.add("available_at <= ?", nowMs)
	if len(queues) > 0 {
		args := make([]any, len(queues))
		for i, q := range queues {
			args[i] = q
		}
		w.add("queue IN ("+placeholders(len(queues))+")", args...)
	}

	args := append([]any{nowMs}, w.args...)
	row := s.db.QueryRowContext(ctx, `
		UPDATE conveyor_jobs
		SET reserved_at = ?
		WHERE id = (
			SELECT id FROM conveyor_jobs`+w.String()+`
			ORDER BY available_at ASC, id ASC
			LIMIT 1
		) AND reserved_at IS NULL
		RETURNING `+jobColumns,
		args...,
	)

	r, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("conveyor/sqlite: claim job: %w", err)
	}
	return r, nil
}

// ReleaseJob clears the reservation without counting an attempt.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_jobs SET reserved_at = NULL WHERE id = ?`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: release job: %w", err)
	}
	return affected(res, conveyor.ErrJobNotFound)
}

// RequeueJob clears the reservation, counts the attempt, and reschedules.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, availableAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs
		SET reserved_at = NULL, attempts = attempts + 1, available_at = ?, last_error = ?
		WHERE id = ?`,
		toMillis(availableAt), lastErr, jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: requeue job: %w", err)
	}
	return affected(res, conveyor.ErrJobNotFound)
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete job: %w", err)
	}
	return affected(res, conveyor.ErrJobNotFound)
}

// ReapStalled bumps the stall counter of every reservation older than
// cutoff. Records within maxStalls come back released; the rest keep a
// fresh reservation at now.
func (s *Store) ReapStalled(ctx context.Context, cutoff, now time.Time, maxStalls int) (released, exhausted []*job.Record, err error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE conveyor_jobs
		SET stalls = stalls + 1,
		    reserved_at = CASE WHEN stalls + 1 <= ? THEN NULL ELSE ? END
		WHERE reserved_at IS NOT NULL AND reserved_at < ?
		RETURNING `+jobColumns,
		maxStalls, toMillis(now), toMillis(cutoff),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("conveyor/sqlite: reap stalled: %w", err)
	}
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
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = ?`,
		jobID.String(),
	)
	r, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get job: %w", err)
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
		w.add("queue = ?", opts.Queue)
	}
	switch opts.Status {
	case job.StatusPending:
		w.add("reserved_at IS NULL AND available_at <= ?", toMillis(now))
	case job.StatusDelayed:
		w.add("reserved_at IS NULL AND available_at > ?", toMillis(now))
	case job.StatusReserved:
		w.add("reserved_at IS NOT NULL")
	}

	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs` + w.String() +
		` ORDER BY available_at ASC, id ASC`
	query += w.page(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns per-status counts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (job.Counts, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	nowMs := toMillis(now)

	w := &where{args: []any{nowMs, nowMs}}
	if opts.Queue != "" {
		w.add("queue = ?", opts.Queue)
	}

	var c job.Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN reserved_at IS NULL AND available_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN reserved_at IS NULL AND available_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN reserved_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM conveyor_jobs`+w.String(),
		w.args...,
	).Scan(&c.Pending, &c.Delayed, &c.Reserved)
	if err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/sqlite: count jobs: %w", err)
	}
	return c, nil
}

func scanJob(row rowScanner) (*job.Record, error) {
	var (
		r           job.Record
		idStr       string
		availableAt int64
		reservedAt  sql.NullInt64
		createdAt   int64
	)
	err := row.Scan(
		&idStr, &r.Queue, &r.Payload, &r.Attempts, &r.MaxAttempts,
		&availableAt, &reservedAt, &r.Stalls, &r.LastError, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse job id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID
	r.AvailableAt = fromMillis(availableAt)
	r.CreatedAt = fromMillis(createdAt)
	if reservedAt.Valid {
		t := fromMillis(reservedAt.Int64)
		r.ReservedAt = &t
	}
	return &r, nil
}

func collectJobs(rows *sql.Rows) ([]*job.Record, error) {
	defer rows.Close()

	var recs []*job.Record
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan job row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate job rows: %w", err)
	}
	return recs, nil
}

// affected maps a zero-row write to notFound.
func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
