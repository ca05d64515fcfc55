package central

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("central: no store configured")
	ErrStoreClosed     = errors.New("central: store closed")
	ErrMigrationFailed = errors.New("central: migration failed")

	// Not found errors.
	ErrEventNotFound = errors.New("central: audit event not found")

	// Conflict errors.
	ErrEventAlreadyExists = errors.New("central: audit event already exists")

	// State errors.
	ErrEventProcessed = errors.New("central: audit event already processed")
	ErrEventNotDead   = errors.New("central: audit event has not exhausted its retry budget")
)
