package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

const failedColumns = `id, original_job_id, job_name, queue, payload, exception,
	attempts, max_attempts, failed_at`

// PushFailed appends a failed job entry.
func (s *Store) PushFailed(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_failed_jobs (`+failedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.OriginalJobID.String(), entry.JobName,
		entry.Queue, entry.Payload, entry.Exception,
		entry.Attempts, entry.MaxAttempts, toMillis(entry.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: push failed job: %w", err)
	}
	return nil
}

// ListFailed returns entries ordered by FailedAt, oldest first.
func (s *Store) ListFailed(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	w := &where{}
	if opts.Queue != "" {
		w.add("queue = ?", opts.Queue)
	}
	query := `SELECT ` + failedColumns + ` FROM conveyor_failed_jobs` + w.String() +
		` ORDER BY failed_at ASC, id ASC`
	query += w.page(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list failed jobs: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanFailed(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan failed job row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate failed job rows: %w", err)
	}
	return entries, nil
}

// GetFailed retrieves a failed job entry by ID.
func (s *Store) GetFailed(ctx context.Context, entryID id.FailedJobID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+failedColumns+` FROM conveyor_failed_jobs WHERE id = ?`,
		entryID.String(),
	)
	e, err := scanFailed(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrFailedJobNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get failed job: %w", err)
	}
	return e, nil
}

// DeleteFailed removes a failed job entry.
func (s *Store) DeleteFailed(ctx context.Context, entryID id.FailedJobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_failed_jobs WHERE id = ?`, entryID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete failed job: %w", err)
	}
	return affected(res, conveyor.ErrFailedJobNotFound)
}

// PurgeFailed removes entries in queue, or every entry when queue is empty.
func (s *Store) PurgeFailed(ctx context.Context, queue string) (int64, error) {
	w := &where{}
	if queue != "" {
		w.add("queue = ?", queue)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_failed_jobs`+w.String(), w.args...)
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: purge failed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: rows affected: %w", err)
	}
	return n, nil
}

// CountFailed counts entries in queue, or all entries when queue is empty.
func (s *Store) CountFailed(ctx context.Context, queue string) (int64, error) {
	w := &where{}
	if queue != "" {
		w.add("queue = ?", queue)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conveyor_failed_jobs`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count failed jobs: %w", err)
	}
	return n, nil
}

func scanFailed(row rowScanner) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		origStr  string
		failedAt int64
		err      error
	)
	if err = row.Scan(
		&idStr, &origStr, &e.JobName, &e.Queue, &e.Payload, &e.Exception,
		&e.Attempts, &e.MaxAttempts, &failedAt,
	); err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseFailedJobID(idStr); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse failed job id %q: %w", idStr, err)
	}
	if e.OriginalJobID, err = id.ParseJobID(origStr); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse job id %q: %w", origStr, err)
	}
	e.FailedAt = fromMillis(failedAt)
	return &e, nil
}
