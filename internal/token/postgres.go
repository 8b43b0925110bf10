package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"safe/internal/safe/ports"
	"safe/pkg/domain"
	"safe/pkg/platform/sentinel"
	txcontext "safe/pkg/platform/tx"
)

// PostgresSchema creates the balance and mint tables. Balances are NUMERIC so
// the full uint64 range fits.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS token_accounts (
	id         UUID           PRIMARY KEY,
	asset      UUID           NOT NULL,
	controller UUID           NOT NULL,
	balance    NUMERIC(20, 0) NOT NULL CHECK (balance >= 0)
);
CREATE TABLE IF NOT EXISTS token_mints (
	asset     UUID PRIMARY KEY,
	authority UUID NOT NULL
);
`

// PostgresBank keeps balances in Postgres. When the context carries a ledger
// transaction, Prepare writes inside it, so balances and ledger records
// commit or roll back together and the returned Pending only marks the batch
// done. Without one, Prepare opens its own transaction and Pending finishes it.
type PostgresBank struct {
	pool *pgxpool.Pool
}

func NewPostgresBank(pool *pgxpool.Pool) *PostgresBank {
	return &PostgresBank{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (b *PostgresBank) db(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return b.pool
}

// Seed inserts acct with its opening balance unless it already exists. An
// existing account keeps its balance and must match acct's asset and controller.
func (b *PostgresBank) Seed(ctx context.Context, acct Account) error {
	_, err := b.db(ctx).Exec(ctx, `
		INSERT INTO token_accounts (id, asset, controller, balance)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (id) DO NOTHING`,
		acct.ID.String(), acct.Asset.String(), acct.Controller.String(), strconv.FormatUint(acct.Balance, 10))
	if err != nil {
		return fmt.Errorf("seed account %s: %w", acct.ID, err)
	}
	existing, err := b.account(ctx, acct.ID)
	if err != nil {
		return err
	}
	if existing.Asset != acct.Asset || existing.Controller != acct.Controller {
		return fmt.Errorf("account %s: %w", acct.ID, sentinel.ErrConflict)
	}
	return nil
}

// SeedMint records the authority allowed to mint units of asset.
func (b *PostgresBank) SeedMint(ctx context.Context, asset domain.AssetID, authority domain.AccountID) error {
	_, err := b.db(ctx).Exec(ctx, `
		INSERT INTO token_mints (asset, authority) VALUES ($1, $2)
		ON CONFLICT (asset) DO UPDATE SET authority = EXCLUDED.authority`,
		asset.String(), authority.String())
	if err != nil {
		return fmt.Errorf("seed mint %s: %w", asset, err)
	}
	return nil
}

// Balance returns the committed balance of an account.
func (b *PostgresBank) Balance(ctx context.Context, id domain.AccountID) (uint64, error) {
	acct, err := b.account(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Controller implements ports.AssetLedger.
func (b *PostgresBank) Controller(ctx context.Context, id domain.AccountID) (domain.AccountID, error) {
	acct, err := b.account(ctx, id)
	if err != nil {
		return domain.AccountID{}, err
	}
	return acct.Controller, nil
}

func (b *PostgresBank) account(ctx context.Context, id domain.AccountID) (*Account, error) {
	row := b.db(ctx).QueryRow(ctx, `
		SELECT id::text, asset::text, controller::text, balance::text
		FROM token_accounts WHERE id = $1`, id.String())
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	return acct, err
}

// Prepare implements ports.AssetLedger. Touched accounts are locked in id
// order with FOR UPDATE before the batch is staged.
func (b *PostgresBank) Prepare(ctx context.Context, effects []ports.Effect) (ports.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx, ok := txcontext.From(ctx); ok {
		if err := b.apply(ctx, tx, effects); err != nil {
			return nil, err
		}
		return &joinedPending{}, nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if err := b.apply(ctx, tx, effects); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, err
	}
	return &ownPending{tx: tx, ctx: context.WithoutCancel(ctx)}, nil
}

func (b *PostgresBank) apply(ctx context.Context, q querier, effects []ports.Effect) error {
	ids, assets := touched(effects)
	accounts, err := lockAccounts(ctx, q, ids)
	if err != nil {
		return err
	}
	mints, err := loadMints(ctx, q, assets)
	if err != nil {
		return err
	}

	bt := newBatch(accounts, mints)
	if err := bt.stageAll(effects); err != nil {
		return err
	}
	for id, bal := range bt.staged {
		if bal == accounts[id].Balance {
			continue
		}
		if _, err := q.Exec(ctx, `UPDATE token_accounts SET balance = $2::numeric WHERE id = $1`,
			id.String(), strconv.FormatUint(bal, 10)); err != nil {
			return fmt.Errorf("update balance %s: %w", id, err)
		}
	}
	return nil
}

func lockAccounts(ctx context.Context, q querier, ids []domain.AccountID) (map[domain.AccountID]*Account, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	slices.Sort(keys)

	rows, err := q.Query(ctx, `
		SELECT id::text, asset::text, controller::text, balance::text
		FROM token_accounts WHERE id = ANY($1::uuid[])
		ORDER BY id FOR UPDATE`, keys)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.AccountID]*Account, len(ids))
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[acct.ID] = acct
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	return out, nil
}

func loadMints(ctx context.Context, q querier, assets []domain.AssetID) (map[domain.AssetID]domain.AccountID, error) {
	out := make(map[domain.AssetID]domain.AccountID, len(assets))
	if len(assets) == 0 {
		return out, nil
	}
	keys := make([]string, len(assets))
	for i, a := range assets {
		keys[i] = a.String()
	}
	rows, err := q.Query(ctx, `
		SELECT asset::text, authority::text FROM token_mints WHERE asset = ANY($1::uuid[])`, keys)
	if err != nil {
		return nil, fmt.Errorf("load mints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var asset, authority string
		if err := rows.Scan(&asset, &authority); err != nil {
			return nil, fmt.Errorf("scan mint: %w", err)
		}
		a, err := domain.ParseAssetID(asset)
		if err != nil {
			return nil, err
		}
		auth, err := domain.ParseAccountID(authority)
		if err != nil {
			return nil, err
		}
		out[a] = auth
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load mints: %w", err)
	}
	return out, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var id, asset, controller, balance string
	if err := row.Scan(&id, &asset, &controller, &balance); err != nil {
		return nil, err
	}
	acct := &Account{}
	var err error
	if acct.ID, err = domain.ParseAccountID(id); err != nil {
		return nil, err
	}
	if acct.Asset, err = domain.ParseAssetID(asset); err != nil {
		return nil, err
	}
	if acct.Controller, err = domain.ParseAccountID(controller); err != nil {
		return nil, err
	}
	if acct.Balance, err = strconv.ParseUint(balance, 10, 64); err != nil {
		return nil, fmt.Errorf("account %s balance %q: %w", id, balance, err)
	}
	return acct, nil
}

// joinedPending belongs to a batch written inside the caller's transaction.
type joinedPending struct{}

func (joinedPending) Commit() {}
func (joinedPending) Abort()  {}

type ownPending struct {
	tx   pgx.Tx
	ctx  context.Context
	once sync.Once
}

func (p *ownPending) Commit() {
	p.once.Do(func() { _ = p.tx.Commit(p.ctx) })
}

func (p *ownPending) Abort() {
	p.once.Do(func() { _ = p.tx.Rollback(p.ctx) })
}
