package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conveyor/schedule"
)

const ledgerName = "default"

// LoadLedger returns the saved schedule snapshot. A missing row is an
// empty ledger.
func (s *Store) LoadLedger(ctx context.Context) ([]schedule.Entry, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM conveyor_schedule_ledger WHERE name = ?`, ledgerName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/sqlite: load ledger: %w", err)
	}
	return schedule.DecodeLedger([]byte(data))
}

// SaveLedger replaces the schedule snapshot.
func (s *Store) SaveLedger(ctx context.Context, entries []schedule.Entry) error {
	data, err := schedule.EncodeLedger(entries)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: encode ledger: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conveyor_schedule_ledger (name, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		ledgerName, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: save ledger: %w", err)
	}
	return nil
}
