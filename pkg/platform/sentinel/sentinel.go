package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrAlreadyUsed: a conditional write lost to an existing row (open record slot taken)
//   - ErrInvalidState: entity in wrong state for requested operation (record already closed)
//   - ErrUnavailable: backing store or collaborator temporarily unavailable
//
// For validation errors (bad input, rejected clock events), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
