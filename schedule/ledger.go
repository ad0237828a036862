package schedule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Ledger persists the scheduler's entries as a whole snapshot.
//
// LoadLedger returns an empty slice when nothing was ever saved, and an
// error wrapping conveyor.ErrLedgerCorrupt when the stored snapshot
// cannot be parsed. SaveLedger replaces the snapshot atomically: a
// reader sees either the previous or the new snapshot, never a mix.
type Ledger interface {
	LoadLedger(ctx context.Context) ([]Entry, error)
	SaveLedger(ctx context.Context, entries []Entry) error
}

// FileLedger stores the ledger as a JSON file. Saves write a temporary
// file in the same directory, fsync it, and rename it over the target.
type FileLedger struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ Ledger = (*FileLedger)(nil)

// NewFileLedger creates a ledger backed by the file at path. The
// directory is created on first save.
func NewFileLedger(path string, logger *slog.Logger) *FileLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLedger{path: path, logger: logger}
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string { return l.path }

// LoadLedger reads and parses the ledger file. A missing file is an
// empty ledger.
func (l *FileLedger) LoadLedger(_ context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug("schedule ledger not found, starting empty", slog.String("path", l.path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: read ledger %s: %w", l.path, err)
	}
	entries, err := DecodeLedger(data)
	if err != nil {
		return nil, fmt.Errorf("schedule: ledger %s: %w", l.path, err)
	}
	return entries, nil
}

// SaveLedger writes entries crash-safely.
func (l *FileLedger) SaveLedger(_ context.Context, entries []Entry) error {
	data, err := EncodeLedger(entries)
	if err != nil {
		return fmt.Errorf("schedule: encode ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("schedule: create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("schedule: create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("schedule: write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // sync error takes precedence
		return fmt.Errorf("schedule: sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("schedule: close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("schedule: replace ledger: %w", err)
	}

	// Persist the rename itself. Not every platform supports syncing a
	// directory, so failures here are only logged.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			l.logger.Debug("schedule ledger dir sync failed", slog.String("error", err.Error()))
		}
		d.Close() //nolint:errcheck // read-only handle
	}
	return nil
}
