package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conveyor: no store configured")
	ErrMigrationFailed = errors.New("conveyor: migration failed")

	// Not found errors.
	ErrJobNotFound       = errors.New("conveyor: job not found")
	ErrFailedJobNotFound = errors.New("conveyor: failed job not found")
	ErrHandlerNotFound   = errors.New("conveyor: no handler registered")
	ErrScheduleNotFound  = errors.New("conveyor: scheduled job not found")

	// Claim errors.
	ErrNoJobAvailable = errors.New("conveyor: no job available")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")

	// Schedule errors.
	ErrInvalidRate   = errors.New("conveyor: invalid schedule rate")
	ErrLedgerCorrupt = errors.New("conveyor: schedule ledger is corrupt")
)
