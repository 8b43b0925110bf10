// Package outbox drains the audit outbox table to Kafka.
//
// Rows are claimed with FOR UPDATE SKIP LOCKED so several relays can run
// against the same database. A row is marked published only after the broker
// acknowledged it; delivery is at-least-once and consumers dedupe on the
// payload id.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"safe/pkg/platform/circuit"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Producer is the subset of *kgo.Client used by the relay.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay publishes unpublished outbox rows.
type Relay struct {
	db           *sql.DB
	producer     Producer
	topic        string
	batchSize    int
	pollInterval time.Duration
	logger       *slog.Logger
	breaker      *circuit.Breaker
}

// Option configures the Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithBatchSize caps the rows claimed per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithPollInterval sets the delay between polls when the outbox is empty.
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithBreaker replaces the default broker circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

// New creates a relay.
func New(db *sql.DB, producer Producer, topic string, opts ...Option) (*Relay, error) {
	if db == nil {
		return nil, errors.New("outbox relay requires a database")
	}
	if producer == nil {
		return nil, errors.New("outbox relay requires a producer")
	}
	if topic == "" {
		return nil, errors.New("outbox relay requires a topic")
	}
	r := &Relay{
		db:           db,
		producer:     producer,
		topic:        topic,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		breaker:      circuit.New("outbox-kafka"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls until ctx is cancelled. After repeated batch failures the
// breaker opens and polls are skipped until its cooldown admits a probe.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		n := 0
		if r.breaker.Allow() {
			var err error
			n, err = r.PublishBatch(ctx)
			if ctx.Err() != nil {
				return nil
			}
			r.record(ctx, err)
		}
		if n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) record(ctx context.Context, err error) {
	if err == nil {
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "outbox relay recovered", "breaker", r.breaker.Name())
		}
		return
	}
	r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.WarnContext(ctx, "outbox relay paused after repeated failures", "breaker", r.breaker.Name())
	}
}

type row struct {
	id          string
	aggregateID string
	eventType   string
	payload     []byte
}

// PublishBatch claims up to batchSize rows, produces them and marks them
// published in one transaction. It returns the number of rows published.
func (r *Relay) PublishBatch(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}
	var batch []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.aggregateID, &rw.eventType, &rw.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, rw)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("close outbox rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(batch))
	for _, rw := range batch {
		records = append(records, &kgo.Record{
			Topic: r.topic,
			// Keyed by aggregate so one ledger's events stay ordered in a partition.
			Key:   []byte(rw.aggregateID),
			Value: rw.payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(rw.eventType)},
				{Key: "outbox_id", Value: []byte(rw.id)},
			},
		})
	}
	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce outbox batch: %w", err)
	}

	now := time.Now()
	for _, rw := range batch {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox SET published_at = $1 WHERE id = $2`, now, rw.id); err != nil {
			return 0, fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	r.logger.DebugContext(ctx, "outbox batch published", "count", len(batch), "topic", r.topic)
	return len(batch), nil
}

// EnsureTopic creates the audit topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}
