package service

import (
	"context"
	"errors"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/ports"
	"safe/internal/safe/store"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
	"safe/pkg/platform/sentinel"
)

// Result describes a committed instruction.
type Result struct {
	Kind     instruction.Kind      `json:"kind"`
	Slot     models.Slot           `json:"slot"`
	Registry *models.SafeRegistry  `json:"registry,omitempty"`
	Ledger   *models.VestingLedger `json:"ledger,omitempty"`
	Receipts []domain.AccountID    `json:"receipts,omitempty"`
}

// plan is the output of a handler: everything the processor writes when the
// transition commits. Handlers build it from copies; nothing touches the store
// until the asset effects are prepared.
type plan struct {
	newRegistry *models.SafeRegistry
	registry    *models.SafeRegistry // updated in place
	newLedger   *models.VestingLedger
	ledger      *models.VestingLedger
	newReceipts []*models.Receipt
	receipts    []*models.Receipt
	effects     []ports.Effect
	event       audit.AuditEvent
	amount      uint64
	units       uint64
	actor       domain.AccountID
	peer        domain.AccountID
}

func (p *plan) persist(ctx context.Context, st store.Store) error {
	for _, l := range []*models.VestingLedger{p.newLedger, p.ledger} {
		if l == nil {
			continue
		}
		if err := l.CheckInvariants(); err != nil {
			panic(models.InvariantViolation{Record: l.ID, Detail: err.Error()})
		}
	}
	if p.newRegistry != nil {
		if err := st.CreateRegistry(ctx, p.newRegistry); err != nil {
			return storeError(err, "create registry")
		}
	}
	if p.registry != nil {
		if err := st.PutRegistry(ctx, p.registry); err != nil {
			return storeError(err, "update registry")
		}
	}
	if p.newLedger != nil {
		if err := st.CreateLedger(ctx, p.newLedger); err != nil {
			return storeError(err, "create ledger")
		}
	}
	if p.ledger != nil {
		if err := st.PutLedger(ctx, p.ledger); err != nil {
			return storeError(err, "update ledger")
		}
	}
	for _, r := range p.newReceipts {
		if err := st.CreateReceipt(ctx, r); err != nil {
			return storeError(err, "create receipt")
		}
	}
	for _, r := range p.receipts {
		if err := st.PutReceipt(ctx, r); err != nil {
			return storeError(err, "update receipt")
		}
	}
	return nil
}

func (p *plan) registryView() *models.SafeRegistry {
	if p.newRegistry != nil {
		return p.newRegistry
	}
	return p.registry
}

func (p *plan) ledgerView() *models.VestingLedger {
	if p.newLedger != nil {
		return p.newLedger
	}
	return p.ledger
}

// storeError maps store failures that survive access control. They indicate
// a race with an out-of-band writer or an infrastructure fault.
func storeError(err error, op string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, op+": record already exists")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, op)
}

// ---- record loading ----

func (s *Service) loadRegistry(ctx context.Context, st store.Store, id domain.AccountID) (*models.SafeRegistry, error) {
	r, err := st.Registry(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "registry not found")
	case errors.Is(err, sentinel.ErrWrongKind):
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "account is not a registry")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load registry")
	}
	if r.Owner != s.program {
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "registry is owned by another program")
	}
	return r, nil
}

func (s *Service) loadLedger(ctx context.Context, st store.Store, id domain.AccountID, registry *models.SafeRegistry) (*models.VestingLedger, error) {
	l, err := st.Ledger(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "vesting ledger not found")
	case errors.Is(err, sentinel.ErrWrongKind):
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "account is not a vesting ledger")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load vesting ledger")
	}
	if l.Owner != s.program {
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "vesting ledger is owned by another program")
	}
	if registry != nil && l.Safe != registry.ID {
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "vesting ledger belongs to another registry")
	}
	return l, nil
}

func (s *Service) loadReceipt(ctx context.Context, st store.Store, id domain.AccountID) (*models.Receipt, error) {
	r, err := st.Receipt(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrWrongKind):
		return nil, dErrors.New(dErrors.CodeInvalidReceipt, "account is not a receipt")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load receipt")
	}
	if r.Owner != s.program || !r.Initialized {
		return nil, dErrors.New(dErrors.CodeInvalidReceipt, "receipt is not owned by this program")
	}
	return r, nil
}

func requireVault(registry *models.SafeRegistry, vault domain.AccountID) error {
	if vault != registry.Vault {
		return dErrors.New(dErrors.CodeInvalidOwner, "vault does not belong to this registry")
	}
	return nil
}

// requireSigner fails closed unless meta carries a signature from want.
func requireSigner(meta instruction.AccountMeta, want domain.AccountID) error {
	if !meta.Signer || meta.ID != want {
		return dErrors.New(dErrors.CodeUnauthorized, "missing required signature")
	}
	return nil
}
