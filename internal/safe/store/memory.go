package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"safe/internal/safe/models"
	"safe/pkg/domain"
	"safe/pkg/platform/sentinel"
)

// numShards spreads record locks; keys sharing a shard serialize.
const numShards = 128

type record struct {
	kind     Kind
	registry *models.SafeRegistry
	ledger   *models.VestingLedger
	receipt  *models.Receipt
}

// MemoryStore keeps records in process. Writes are staged per transaction and
// published under the map lock only when the transaction succeeds.
type MemoryStore struct {
	shards  [numShards]sync.Mutex
	mu      sync.RWMutex
	records map[domain.AccountID]record
	timeout time.Duration
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTxTimeout overrides the default transaction timeout.
func WithTxTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.timeout = d
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{records: make(map[domain.AccountID]record)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func shardOf(id domain.AccountID) int {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int(h.Sum32() % numShards)
}

// RunInTx implements Tx.
func (s *MemoryStore) RunInTx(ctx context.Context, keys []domain.AccountID, fn func(ctx context.Context, st Store) error) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	keys = sortedKeys(keys)
	var shards []int
	seen := make(map[int]bool)
	for _, k := range keys {
		if sh := shardOf(k); !seen[sh] {
			seen[sh] = true
			shards = append(shards, sh)
		}
	}
	// Shard order must be canonical too.
	slices.Sort(shards)
	for _, sh := range shards {
		s.shards[sh].Lock()
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			s.shards[shards[i]].Unlock()
		}
	}()

	if err := cancelled(ctx); err != nil {
		return err
	}

	tx := &memoryTx{base: s, locked: newLockSet(keys), writes: make(map[domain.AccountID]record)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	for id, rec := range tx.writes {
		s.records[id] = rec
	}
	s.mu.Unlock()
	return nil
}

type memoryTx struct {
	base   *MemoryStore
	locked lockSet
	writes map[domain.AccountID]record
}

func (t *memoryTx) load(id domain.AccountID, kind Kind) (record, error) {
	if err := t.locked.check(id); err != nil {
		return record{}, err
	}
	rec, ok := t.writes[id]
	if !ok {
		t.base.mu.RLock()
		rec, ok = t.base.records[id]
		t.base.mu.RUnlock()
	}
	if !ok {
		return record{}, fmt.Errorf("%s %s: %w", kind, id, sentinel.ErrNotFound)
	}
	if rec.kind != kind {
		return record{}, fmt.Errorf("%s holds a %s, not a %s: %w", id, rec.kind, kind, sentinel.ErrWrongKind)
	}
	return rec, nil
}

func (t *memoryTx) exists(id domain.AccountID) bool {
	if _, ok := t.writes[id]; ok {
		return true
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	_, ok := t.base.records[id]
	return ok
}

func (t *memoryTx) create(id domain.AccountID, rec record) error {
	if err := t.locked.check(id); err != nil {
		return err
	}
	if t.exists(id) {
		return fmt.Errorf("%s %s: %w", rec.kind, id, sentinel.ErrConflict)
	}
	t.writes[id] = rec
	return nil
}

func (t *memoryTx) put(id domain.AccountID, rec record) error {
	if _, err := t.load(id, rec.kind); err != nil {
		return err
	}
	t.writes[id] = rec
	return nil
}

func (t *memoryTx) Registry(_ context.Context, id domain.AccountID) (*models.SafeRegistry, error) {
	rec, err := t.load(id, KindRegistry)
	if err != nil {
		return nil, err
	}
	return rec.registry.Clone(), nil
}

func (t *memoryTx) Ledger(_ context.Context, id domain.AccountID) (*models.VestingLedger, error) {
	rec, err := t.load(id, KindLedger)
	if err != nil {
		return nil, err
	}
	return rec.ledger.Clone(), nil
}

func (t *memoryTx) Receipt(_ context.Context, id domain.AccountID) (*models.Receipt, error) {
	rec, err := t.load(id, KindReceipt)
	if err != nil {
		return nil, err
	}
	return rec.receipt.Clone(), nil
}

func (t *memoryTx) CreateRegistry(_ context.Context, r *models.SafeRegistry) error {
	return t.create(r.ID, record{kind: KindRegistry, registry: r.Clone()})
}

func (t *memoryTx) PutRegistry(_ context.Context, r *models.SafeRegistry) error {
	return t.put(r.ID, record{kind: KindRegistry, registry: r.Clone()})
}

func (t *memoryTx) CreateLedger(_ context.Context, l *models.VestingLedger) error {
	return t.create(l.ID, record{kind: KindLedger, ledger: l.Clone()})
}

func (t *memoryTx) PutLedger(_ context.Context, l *models.VestingLedger) error {
	return t.put(l.ID, record{kind: KindLedger, ledger: l.Clone()})
}

func (t *memoryTx) CreateReceipt(_ context.Context, r *models.Receipt) error {
	return t.create(r.ID, record{kind: KindReceipt, receipt: r.Clone()})
}

func (t *memoryTx) PutReceipt(_ context.Context, r *models.Receipt) error {
	return t.put(r.ID, record{kind: KindReceipt, receipt: r.Clone()})
}
