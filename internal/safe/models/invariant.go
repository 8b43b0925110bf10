package models

import (
	"fmt"

	"safe/pkg/domain"
)

// InvariantViolation is raised (as a panic value) when a record mutation would
// break a ledger invariant. Access control must make it unreachable; seeing
// one means a defect, never bad input.
type InvariantViolation struct {
	Record domain.AccountID
	Detail string
}

func (v InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated on %s: %s", v.Record, v.Detail)
}

func violate(record domain.AccountID, format string, args ...any) {
	panic(InvariantViolation{Record: record, Detail: fmt.Sprintf(format, args...)})
}
