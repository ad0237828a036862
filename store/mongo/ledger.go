package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor/schedule"
)

const ledgerName = "default"

// LoadLedger returns the saved schedule snapshot. A missing document is an
// empty ledger.
func (s *Store) LoadLedger(ctx context.Context) ([]schedule.Entry, error) {
	var m ledgerModel
	err := s.db.Collection(colLedger).FindOne(ctx, bson.M{"_id": ledgerName}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/mongo: load ledger: %w", err)
	}
	return schedule.DecodeLedger([]byte(m.Data))
}

// SaveLedger replaces the snapshot document. A single-document replace is
// atomic.
func (s *Store) SaveLedger(ctx context.Context, entries []schedule.Entry) error {
	data, err := schedule.EncodeLedger(entries)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: encode ledger: %w", err)
	}
	doc := &ledgerModel{Name: ledgerName, Data: string(data), UpdatedAt: time.Now().UTC()}
	_, err = s.db.Collection(colLedger).ReplaceOne(ctx,
		bson.M{"_id": ledgerName}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("conveyor/mongo: save ledger: %w", err)
	}
	return nil
}
