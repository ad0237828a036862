package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// claimSort is the claim order: oldest AvailableAt first, then ID.
var claimSort = bson.D{{Key: "available_at", Value: 1}, {Key: "_id", Value: 1}}

// EnqueueJob inserts a new record.
func (s *Store) EnqueueJob(ctx context.Context, r *job.Record) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(r))
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/mongo: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext reserves the oldest claimable record. FindOneAndUpdate is
// atomic on a single document, so the reserved_at: null filter makes the
// reservation a compare-and-set.
func (s *Store) ClaimNext(ctx context.Context, queues []string, now time.Time) (*job.Record, error) {
	now = now.UTC()
	filter := bson.M{
		"reserved_at":  nil,
		"available_at": bson.M{"$lte": now},
	}
	if len(queues) > 0 {
		filter["queue"] = bson.M{"$in": queues}
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(claimSort)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"reserved_at": now}}, opts,
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("conveyor/mongo: claim job: %w", err)
	}
	return fromJobModel(&m)
}

// ReleaseJob clears the reservation without counting an attempt.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{"$set": bson.M{"reserved_at": nil}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: release job: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// RequeueJob clears the reservation, counts the attempt, and reschedules.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, availableAt time.Time, lastErr string) error {
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{
			"$set": bson.M{
				"reserved_at":  nil,
				"available_at": availableAt.UTC(),
				"last_error":   lastErr,
			},
			"$inc": bson.M{"attempts": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: requeue job: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ReapStalled recovers reservations older than cutoff. Each record is
// updated by its own FindOneAndUpdate that re-checks the reservation, so
// a record released concurrently is skipped rather than double-counted.
func (s *Store) ReapStalled(ctx context.Context, cutoff, now time.Time, maxStalls int) (released, exhausted []*job.Record, err error) {
	col := s.db.Collection(colJobs)
	stale := bson.M{"reserved_at": bson.M{"$ne": nil, "$lt": cutoff.UTC()}}

	cursor, err := col.Find(ctx, stale,
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(claimSort))
	if err != nil {
		return nil, nil, fmt.Errorf("conveyor/mongo: reap stalled: %w", err)
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &ids); err != nil {
		return nil, nil, fmt.Errorf("conveyor/mongo: reap stalled decode: %w", err)
	}

	// Stalls is bumped first; the second stage sees the new value.
	update := mongod.Pipeline{
		{{Key: "$set", Value: bson.M{"stalls": bson.M{"$add": bson.A{"$stalls", 1}}}}},
		{{Key: "$set", Value: bson.M{"reserved_at": bson.M{"$cond": bson.A{
			bson.M{"$lte": bson.A{"$stalls", maxStalls}}, nil, now.UTC(),
		}}}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for _, doc := range ids {
		filter := bson.M{"_id": doc.ID, "reserved_at": stale["reserved_at"]}
		var m jobModel
		if err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
			if isNoDocuments(err) {
				continue
			}
			return nil, nil, fmt.Errorf("conveyor/mongo: reap stalled update: %w", err)
		}
		r, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, nil, convErr
		}
		if r.ReservedAt == nil {
			released = append(released, r)
		} else {
			exhausted = append(exhausted, r)
		}
	}
	job.SortByAvailability(released)
	job.SortByAvailability(exhausted)
	return released, exhausted, nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ListJobs returns records ordered by AvailableAt.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Record, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	switch opts.Status {
	case job.StatusPending:
		filter["reserved_at"] = nil
		filter["available_at"] = bson.M{"$lte": now.UTC()}
	case job.StatusDelayed:
		filter["reserved_at"] = nil
		filter["available_at"] = bson.M{"$gt": now.UTC()}
	case job.StatusReserved:
		filter["reserved_at"] = bson.M{"$ne": nil}
	}

	findOpts := options.Find().SetSort(claimSort)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs decode: %w", err)
	}

	recs := make([]*job.Record, 0, len(models))
	for i := range models {
		r, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// CountJobs returns per-status counts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (job.Counts, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	col := s.db.Collection(colJobs)

	filter := func(extra bson.M) bson.M {
		if opts.Queue != "" {
			extra["queue"] = opts.Queue
		}
		return extra
	}

	var (
		c   job.Counts
		err error
	)
	if c.Pending, err = col.CountDocuments(ctx, filter(bson.M{
		"reserved_at": nil, "available_at": bson.M{"$lte": now.UTC()},
	})); err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/mongo: count pending: %w", err)
	}
	if c.Delayed, err = col.CountDocuments(ctx, filter(bson.M{
		"reserved_at": nil, "available_at": bson.M{"$gt": now.UTC()},
	})); err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/mongo: count delayed: %w", err)
	}
	if c.Reserved, err = col.CountDocuments(ctx, filter(bson.M{
		"reserved_at": bson.M{"$ne": nil},
	})); err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/mongo: count reserved: %w", err)
	}
	return c, nil
}
