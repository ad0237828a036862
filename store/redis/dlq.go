package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

// PushFailed stores a failed job entry and indexes it by FailedAt.
func (s *Store) PushFailed(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	member := goredis.Z{Score: float64(entry.FailedAt.UnixMilli()), Member: eID}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.failedKey(eID), failedToMap(entry))
	pipe.ZAdd(ctx, s.failedIndexKey(), member)
	pipe.ZAdd(ctx, s.failedQueueKey(entry.Queue), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: push failed job: %w", err)
	}
	return nil
}

// ListFailed returns entries ordered by FailedAt, oldest first.
func (s *Store) ListFailed(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = int64(opts.Offset + opts.Limit - 1)
	}
	ids, err := s.client.ZRange(ctx, s.failedIndexFor(opts.Queue), int64(opts.Offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list failed jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.failedKey(eID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/redis: load failed jobs: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, convErr := mapToFailed(vals)
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetFailed retrieves a failed job entry by ID.
func (s *Store) GetFailed(ctx context.Context, entryID id.FailedJobID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.failedKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get failed job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrFailedJobNotFound
	}
	return mapToFailed(vals)
}

// DeleteFailed removes a failed job entry.
func (s *Store) DeleteFailed(ctx context.Context, entryID id.FailedJobID) error {
	eID := entryID.String()
	queue, err := s.client.HGet(ctx, s.failedKey(eID), "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return conveyor.ErrFailedJobNotFound
		}
		return fmt.Errorf("conveyor/redis: delete failed job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.failedKey(eID))
	pipe.ZRem(ctx, s.failedIndexKey(), eID)
	pipe.ZRem(ctx, s.failedQueueKey(queue), eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete failed job: %w", err)
	}
	return nil
}

// PurgeFailed removes entries in queue, or every entry when queue is empty.
func (s *Store) PurgeFailed(ctx context.Context, queue string) (int64, error) {
	ids, err := s.client.ZRange(ctx, s.failedIndexFor(queue), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge failed jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Entry queues are needed to clean the per-queue indexes.
	qpipe := s.client.Pipeline()
	queues := make([]*goredis.StringCmd, len(ids))
	for i, eID := range ids {
		queues[i] = qpipe.HGet(ctx, s.failedKey(eID), "queue")
	}
	_, _ = qpipe.Exec(ctx) //nolint:errcheck // missing hashes surface as empty queues below

	pipe := s.client.TxPipeline()
	for i, eID := range ids {
		pipe.Del(ctx, s.failedKey(eID))
		pipe.ZRem(ctx, s.failedIndexKey(), eID)
		if q := queues[i].Val(); q != "" {
			pipe.ZRem(ctx, s.failedQueueKey(q), eID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge failed jobs: %w", err)
	}
	return int64(len(ids)), nil
}

// CountFailed counts entries in queue, or all entries when queue is empty.
func (s *Store) CountFailed(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.failedIndexFor(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count failed jobs: %w", err)
	}
	return n, nil
}

// ── helpers ──

func (s *Store) failedIndexFor(queue string) string {
	if queue == "" {
		return s.failedIndexKey()
	}
	return s.failedQueueKey(queue)
}

func failedToMap(e *dlq.Entry) map[string]any {
	return map[string]any{
		"id":              e.ID.String(),
		"original_job_id": e.OriginalJobID.String(),
		"job_name":        e.JobName,
		"queue":           e.Queue,
		"payload":         string(e.Payload),
		"exception":       e.Exception,
		"attempts":        strconv.Itoa(e.Attempts),
		"max_attempts":    strconv.Itoa(e.MaxAttempts),
		"failed_at":       strconv.FormatInt(e.FailedAt.UnixMilli(), 10),
	}
}

func mapToFailed(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseFailedJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse failed job id: %w", err)
	}
	jobID, err := id.ParseJobID(m["original_job_id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}
	attempts, _ := strconv.Atoi(m["attempts"])              //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])       //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := strconv.ParseInt(m["failed_at"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		ID:            eID,
		OriginalJobID: jobID,
		JobName:       m["job_name"],
		Queue:         m["queue"],
		Payload:       []byte(m["payload"]),
		Exception:     m["exception"],
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		FailedAt:      time.UnixMilli(failedAt).UTC(),
	}, nil
}
