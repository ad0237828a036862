package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/conveyor/schedule"
)

// ledgerName keys the single ledger row.
const ledgerName = "default"

// LoadLedger returns the saved schedule snapshot. A missing row is an
// empty ledger.
func (s *Store) LoadLedger(ctx context.Context) ([]schedule.Entry, error) {
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM conveyor_schedule_ledger WHERE name = $1`, ledgerName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/postgres: load ledger: %w", err)
	}
	return schedule.DecodeLedger([]byte(data))
}

// SaveLedger replaces the schedule snapshot in a single upsert.
func (s *Store) SaveLedger(ctx context.Context, entries []schedule.Entry) error {
	data, err := schedule.EncodeLedger(entries)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: encode ledger: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_schedule_ledger (name, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		ledgerName, string(data),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: save ledger: %w", err)
	}
	return nil
}
