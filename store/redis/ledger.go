package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor/schedule"
)

// LoadLedger returns the saved schedule snapshot. A missing key is an
// empty ledger.
func (s *Store) LoadLedger(ctx context.Context) ([]schedule.Entry, error) {
	data, err := s.client.Get(ctx, s.ledgerKey()).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/redis: load ledger: %w", err)
	}
	return schedule.DecodeLedger(data)
}

// SaveLedger replaces the snapshot with a single SET.
func (s *Store) SaveLedger(ctx context.Context, entries []schedule.Entry) error {
	data, err := schedule.EncodeLedger(entries)
	if err != nil {
		return fmt.Errorf("conveyor/redis: encode ledger: %w", err)
	}
	if err := s.client.Set(ctx, s.ledgerKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: save ledger: %w", err)
	}
	return nil
}
