package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"safe/internal/safe/models"
	"safe/pkg/domain"
	"safe/pkg/platform/sentinel"
	txcontext "safe/pkg/platform/tx"
)

// Schema creates the account table. Records are stored whole as JSON.
const Schema = `
CREATE TABLE IF NOT EXISTS safe_accounts (
	id         UUID PRIMARY KEY,
	kind       TEXT        NOT NULL,
	owner      UUID        NOT NULL,
	data       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS safe_accounts_kind_idx ON safe_accounts (kind);
`

// PostgresStore keeps records in Postgres. A transaction takes a
// transaction-scoped advisory lock per key, which also covers keys whose rows
// do not exist yet.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, timeout: timeout}
}

// RunInTx implements Tx.
func (s *PostgresStore) RunInTx(ctx context.Context, keys []domain.AccountID, fn func(ctx context.Context, st Store) error) (err error) {
	if err := cancelled(ctx); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return cerr
		}
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	keys = sortedKeys(keys)
	for _, k := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k.String()); err != nil {
			if cerr := cancelled(ctx); cerr != nil {
				return cerr
			}
			return fmt.Errorf("lock %s: %w", k, err)
		}
	}

	txCtx := txcontext.WithTx(ctx, tx)
	if err := fn(txCtx, &postgresTx{tx: tx, locked: newLockSet(keys)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return cerr
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx     pgx.Tx
	locked lockSet
}

func (t *postgresTx) load(ctx context.Context, id domain.AccountID, kind Kind, dst any) error {
	if err := t.locked.check(id); err != nil {
		return err
	}
	var (
		gotKind string
		data    []byte
	)
	err := t.tx.QueryRow(ctx, `SELECT kind, data FROM safe_accounts WHERE id = $1`, id.String()).Scan(&gotKind, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	if Kind(gotKind) != kind {
		return fmt.Errorf("%s holds a %s, not a %s: %w", id, gotKind, kind, sentinel.ErrWrongKind)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

func (t *postgresTx) create(ctx context.Context, id domain.AccountID, owner domain.ProgramID, kind Kind, v any) error {
	if err := t.locked.check(id); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO safe_accounts (id, kind, owner, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, id.String(), string(kind), owner.String(), data)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, sentinel.ErrConflict)
	}
	return nil
}

func (t *postgresTx) put(ctx context.Context, id domain.AccountID, kind Kind, v any) error {
	if err := t.locked.check(id); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE safe_accounts SET data = $3, updated_at = now()
		WHERE id = $1 AND kind = $2
	`, id.String(), string(kind), data)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, sentinel.ErrNotFound)
	}
	return nil
}

func (t *postgresTx) Registry(ctx context.Context, id domain.AccountID) (*models.SafeRegistry, error) {
	var r models.SafeRegistry
	if err := t.load(ctx, id, KindRegistry, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *postgresTx) Ledger(ctx context.Context, id domain.AccountID) (*models.VestingLedger, error) {
	var l models.VestingLedger
	if err := t.load(ctx, id, KindLedger, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *postgresTx) Receipt(ctx context.Context, id domain.AccountID) (*models.Receipt, error) {
	var r models.Receipt
	if err := t.load(ctx, id, KindReceipt, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *postgresTx) CreateRegistry(ctx context.Context, r *models.SafeRegistry) error {
	return t.create(ctx, r.ID, r.Owner, KindRegistry, r)
}

func (t *postgresTx) PutRegistry(ctx context.Context, r *models.SafeRegistry) error {
	return t.put(ctx, r.ID, KindRegistry, r)
}

func (t *postgresTx) CreateLedger(ctx context.Context, l *models.VestingLedger) error {
	return t.create(ctx, l.ID, l.Owner, KindLedger, l)
}

func (t *postgresTx) PutLedger(ctx context.Context, l *models.VestingLedger) error {
	return t.put(ctx, l.ID, KindLedger, l)
}

func (t *postgresTx) CreateReceipt(ctx context.Context, r *models.Receipt) error {
	return t.create(ctx, r.ID, r.Owner, KindReceipt, r)
}

func (t *postgresTx) PutReceipt(ctx context.Context, r *models.Receipt) error {
	return t.put(ctx, r.ID, KindReceipt, r)
}

