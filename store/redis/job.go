package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// EnqueueJob stores the record as a Hash and indexes it in its queue.
func (s *Store) EnqueueJob(ctx context.Context, r *job.Record) error {
	jID := r.ID.String()

	reservedAt := ""
	if r.ReservedAt != nil {
		reservedAt = strconv.FormatInt(r.ReservedAt.UnixMilli(), 10)
	}
	args := []any{jID, r.AvailableAt.UnixMilli(), reservedAt, r.Queue}
	args = append(args, recordToArgs(r)...)

	keys := []string{
		s.jobKey(jID), s.jobIDsKey(), s.queuesKey(), s.readyKey(r.Queue), s.reservedKey(),
	}
	ok, err := enqueueScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: enqueue job: %w", err)
	}
	if ok == 0 {
		return conveyor.ErrJobAlreadyExists
	}
	return nil
}

// ClaimNext reserves the oldest claimable record across queues, or across
// every known queue when queues is empty.
func (s *Store) ClaimNext(ctx context.Context, queues []string, now time.Time) (*job.Record, error) {
	if len(queues) == 0 {
		all, err := s.client.SMembers(ctx, s.queuesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: claim list queues: %w", err)
		}
		queues = all
	}
	if len(queues) == 0 {
		return nil, conveyor.ErrNoJobAvailable
	}

	keys := make([]string, 0, len(queues)+1)
	for _, q := range queues {
		keys = append(keys, s.readyKey(q))
	}
	keys = append(keys, s.reservedKey())

	vals, err := claimScript.Run(ctx, s.client, keys, now.UnixMilli(), s.jobKeyPrefix()).Slice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, conveyor.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("conveyor/redis: claim job: %w", err)
	}
	return mapToRecord(pairsToMap(vals))
}

// ReleaseJob clears the reservation without counting an attempt.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID) error {
	return s.unreserve(ctx, jobID, "release job", "", "")
}

// RequeueJob clears the reservation, counts the attempt, and reschedules.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, availableAt time.Time, lastErr string) error {
	return s.unreserve(ctx, jobID, "requeue job",
		strconv.FormatInt(availableAt.UnixMilli(), 10), lastErr)
}

func (s *Store) unreserve(ctx context.Context, jobID id.JobID, op, availableAt, lastErr string) error {
	jID := jobID.String()
	ok, err := releaseScript.Run(ctx, s.client,
		[]string{s.jobKey(jID), s.reservedKey()},
		jID, s.readyKeyPrefix(), availableAt, lastErr,
	).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: %s: %w", op, err)
	}
	if ok == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	ok, err := deleteScript.Run(ctx, s.client,
		[]string{s.jobKey(jID), s.jobIDsKey(), s.reservedKey()},
		jID, s.readyKeyPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: delete job: %w", err)
	}
	if ok == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ReapStalled recovers reservations older than cutoff.
func (s *Store) ReapStalled(ctx context.Context, cutoff, now time.Time, maxStalls int) (released, exhausted []*job.Record, err error) {
	vals, err := reapScript.Run(ctx, s.client,
		[]string{s.reservedKey()},
		cutoff.UnixMilli(), now.UnixMilli(), maxStalls, s.jobKeyPrefix(), s.readyKeyPrefix(),
	).Slice()
	if err != nil {
		return nil, nil, fmt.Errorf("conveyor/redis: reap stalled: %w", err)
	}
	if len(vals) != 2 {
		return nil, nil, fmt.Errorf("conveyor/redis: reap stalled: unexpected reply of %d elements", len(vals))
	}

	if released, err = s.loadRecords(ctx, toStrings(vals[0])); err != nil {
		return nil, nil, err
	}
	if exhausted, err = s.loadRecords(ctx, toStrings(vals[1])); err != nil {
		return nil, nil, err
	}
	job.SortByAvailability(released)
	job.SortByAvailability(exhausted)
	return released, exhausted, nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	vals, err := s.client.HGetAll(ctx, s.jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrJobNotFound
	}
	return mapToRecord(vals)
}

// ListJobs returns records ordered by AvailableAt.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Record, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	ids, err := s.client.SMembers(ctx, s.jobIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list jobs smembers: %w", err)
	}
	all, err := s.loadRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	recs := make([]*job.Record, 0, len(all))
	for _, r := range all {
		if opts.Queue != "" && r.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && job.StatusAt(r, now) != opts.Status {
			continue
		}
		recs = append(recs, r)
	}
	job.SortByAvailability(recs)

	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			return nil, nil
		}
		recs = recs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(recs) {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

// CountJobs returns per-status counts. Pending and delayed come straight
// from the ready sets; reserved needs a queue lookup only when filtering.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (job.Counts, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	queues := []string{opts.Queue}
	if opts.Queue == "" {
		all, err := s.client.SMembers(ctx, s.queuesKey()).Result()
		if err != nil {
			return job.Counts{}, fmt.Errorf("conveyor/redis: count list queues: %w", err)
		}
		queues = all
	}

	pipe := s.client.Pipeline()
	pending := make([]*goredis.IntCmd, len(queues))
	delayed := make([]*goredis.IntCmd, len(queues))
	for i, q := range queues {
		pending[i] = pipe.ZCount(ctx, s.readyKey(q), "-inf", nowMs)
		delayed[i] = pipe.ZCount(ctx, s.readyKey(q), "("+nowMs, "+inf")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/redis: count jobs: %w", err)
	}

	var c job.Counts
	for i := range queues {
		c.Pending += pending[i].Val()
		c.Delayed += delayed[i].Val()
	}

	if opts.Queue == "" {
		n, err := s.client.ZCard(ctx, s.reservedKey()).Result()
		if err != nil {
			return job.Counts{}, fmt.Errorf("conveyor/redis: count reserved: %w", err)
		}
		c.Reserved = n
		return c, nil
	}

	ids, err := s.client.ZRange(ctx, s.reservedKey(), 0, -1).Result()
	if err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/redis: count reserved: %w", err)
	}
	qpipe := s.client.Pipeline()
	owners := make([]*goredis.StringCmd, len(ids))
	for i, jID := range ids {
		owners[i] = qpipe.HGet(ctx, s.jobKey(jID), "queue")
	}
	if len(ids) > 0 {
		if _, err := qpipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return job.Counts{}, fmt.Errorf("conveyor/redis: count reserved queues: %w", err)
		}
	}
	for _, cmd := range owners {
		if cmd.Val() == opts.Queue {
			c.Reserved++
		}
	}
	return c, nil
}

// ── helpers ──

// loadRecords fetches the Hashes for ids in one pipeline. IDs whose Hash
// has vanished are skipped.
func (s *Store) loadRecords(ctx context.Context, ids []string) ([]*job.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/redis: load jobs: %w", err)
	}

	recs := make([]*job.Record, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		r, err := mapToRecord(vals)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// recordToArgs flattens r into HSET field/value pairs.
func recordToArgs(r *job.Record) []any {
	args := []any{
		"id", r.ID.String(),
		"queue", r.Queue,
		"payload", string(r.Payload),
		"attempts", r.Attempts,
		"max_attempts", r.MaxAttempts,
		"available_at", r.AvailableAt.UnixMilli(),
		"stalls", r.Stalls,
		"last_error", r.LastError,
		"created_at", r.CreatedAt.UnixMilli(),
	}
	if r.ReservedAt != nil {
		args = append(args, "reserved_at", r.ReservedAt.UnixMilli())
	}
	return args
}

func mapToRecord(m map[string]string) (*job.Record, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	stalls, _ := strconv.Atoi(m["stalls"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	availableAt, _ := strconv.ParseInt(m["available_at"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := strconv.ParseInt(m["created_at"], 10, 64)     //nolint:errcheck // best-effort parse from trusted Redis data

	r := &job.Record{
		ID:          jID,
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		AvailableAt: time.UnixMilli(availableAt).UTC(),
		Stalls:      stalls,
		LastError:   m["last_error"],
		CreatedAt:   time.UnixMilli(createdAt).UTC(),
	}
	if v := m["reserved_at"]; v != "" {
		ms, _ := strconv.ParseInt(v, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
		t := time.UnixMilli(ms).UTC()
		r.ReservedAt = &t
	}
	return r, nil
}

// pairsToMap converts a flat HGETALL script reply into a map.
func pairsToMap(vals []any) map[string]string {
	m := make(map[string]string, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		k, _ := vals[i].(string)
		v, _ := vals[i+1].(string)
		m[k] = v
	}
	return m
}

func toStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, x := range list {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
