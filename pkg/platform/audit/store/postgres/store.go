package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	audit "safe/pkg/platform/audit"
	txcontext "safe/pkg/platform/tx"
)

// Schema creates the outbox table. The relay in pkg/platform/audit/outbox
// drains it to Kafka.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	published_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_unpublished_idx ON outbox (created_at) WHERE published_at IS NULL;
`

// Store implements audit.Store using the transactional outbox pattern.
// When the context carries a ledger transaction the outbox row commits with it.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.pool
}

// Payload is the JSON structure published to Kafka.
type Payload struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Timestamp    string `json:"timestamp"`
	Action       string `json:"action"`
	Registry     string `json:"registry"`
	Ledger       string `json:"ledger,omitempty"`
	Actor        string `json:"actor"`
	Counterparty string `json:"counterparty,omitempty"`
	Amount       uint64 `json:"amount,omitempty"`
	Units        uint64 `json:"units,omitempty"`
	Slot         uint64 `json:"slot"`
	RequestID    string `json:"request_id,omitempty"`
}

// NewPayload flattens an event for the outbox.
func NewPayload(eventID uuid.UUID, event audit.Event) Payload {
	p := Payload{
		ID:        eventID.String(),
		Category:  string(audit.AuditEvent(event.Action).Category()),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    event.Action,
		Registry:  event.Registry.String(),
		Actor:     event.Actor.String(),
		Amount:    event.Amount,
		Units:     event.Units,
		Slot:      event.Slot,
		RequestID: event.RequestID,
	}
	if !event.Ledger.IsNil() {
		p.Ledger = event.Ledger.String()
	}
	if !event.Counterparty.IsNil() {
		p.Counterparty = event.Counterparty.String()
	}
	return p
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	payloadBytes, err := json.Marshal(NewPayload(eventID, event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "registry"
	aggregateID := event.Registry.String()
	if !event.Ledger.IsNil() {
		aggregateType = "ledger"
		aggregateID = event.Ledger.String()
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).Exec(ctx, query,
		eventID,
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
