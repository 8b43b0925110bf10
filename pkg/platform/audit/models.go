package audit

import (
	"context"
	"time"

	id "safe/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers value movements: deposits, withdrawals, receipt
	// mints and burns. These require tamper-proof storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers administrative actions: slashing and authority changes.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers everything else.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted after a transition's access control and state change have
// both succeeded. Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    string
	Registry  id.AccountID
	Ledger    id.AccountID
	// Actor is the signer that authorized the transition.
	Actor id.AccountID
	// Counterparty is the balance or holder account value moved to or from.
	Counterparty id.AccountID
	Amount       uint64
	Units        uint64
	Slot         uint64
	RequestID    string
}

type AuditEvent string

const (
	EventRegistryInitialized AuditEvent = "registry_initialized"
	EventDeposited           AuditEvent = "deposited"
	EventReceiptsMinted      AuditEvent = "receipts_minted"
	EventReceiptsBurned      AuditEvent = "receipts_burned"
	EventWithdrawn           AuditEvent = "withdrawn"
	EventSlashed             AuditEvent = "slashed"
	EventAuthorityChanged    AuditEvent = "authority_changed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventDeposited:      CategoryCompliance,
	EventReceiptsMinted: CategoryCompliance,
	EventReceiptsBurned: CategoryCompliance,
	EventWithdrawn:      CategoryCompliance,

	EventSlashed:          CategorySecurity,
	EventAuthorityChanged: CategorySecurity,

	EventRegistryInitialized: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
