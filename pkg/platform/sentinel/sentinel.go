package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// - ErrNotFound: no record exists under the key
// - ErrConflict: a create collided with an existing record
// - ErrWrongKind: the key holds a record of another kind (a ledger where a registry was expected)
// - ErrInvalidState: a record is in the wrong state for the requested operation
// - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrWrongKind    = errors.New("wrong record kind")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
