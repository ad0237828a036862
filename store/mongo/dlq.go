package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

// PushFailed appends a failed job entry.
func (s *Store) PushFailed(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.db.Collection(colFailed).InsertOne(ctx, toFailedModel(entry)); err != nil {
		return fmt.Errorf("conveyor/mongo: push failed job: %w", err)
	}
	return nil
}

// ListFailed returns entries ordered by FailedAt, oldest first.
func (s *Store) ListFailed(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colFailed).Find(ctx, queueFilter(opts.Queue), findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list failed jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []failedModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list failed jobs decode: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromFailedModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetFailed retrieves a failed job entry by ID.
func (s *Store) GetFailed(ctx context.Context, entryID id.FailedJobID) (*dlq.Entry, error) {
	var m failedModel
	err := s.db.Collection(colFailed).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrFailedJobNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get failed job: %w", err)
	}
	return fromFailedModel(&m)
}

// DeleteFailed removes a failed job entry.
func (s *Store) DeleteFailed(ctx context.Context, entryID id.FailedJobID) error {
	res, err := s.db.Collection(colFailed).DeleteOne(ctx, bson.M{"_id": entryID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete failed job: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrFailedJobNotFound
	}
	return nil
}

// PurgeFailed removes entries in queue, or every entry when queue is empty.
func (s *Store) PurgeFailed(ctx context.Context, queue string) (int64, error) {
	res, err := s.db.Collection(colFailed).DeleteMany(ctx, queueFilter(queue))
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: purge failed jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// CountFailed counts entries in queue, or all entries when queue is empty.
func (s *Store) CountFailed(ctx context.Context, queue string) (int64, error) {
	n, err := s.db.Collection(colFailed).CountDocuments(ctx, queueFilter(queue))
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: count failed jobs: %w", err)
	}
	return n, nil
}

func queueFilter(queue string) bson.M {
	if queue == "" {
		return bson.M{}
	}
	return bson.M{"queue": queue}
}
