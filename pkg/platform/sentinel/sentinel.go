package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors.
//
//   - ErrNotFound: entity does not exist
//   - ErrAlreadyUsed: a uniqueness constraint rejected the write
//   - ErrConflict: a competing row blocks the write (e.g. another active claim)
//   - ErrInvalidState: a conditional update matched zero rows
//   - ErrCapacityExhausted: a capped collection is already full
//   - ErrUnavailable: backing store temporarily unavailable
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyUsed       = errors.New("already used")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrUnavailable       = errors.New("unavailable")
)
