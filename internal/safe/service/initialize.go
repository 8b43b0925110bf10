package service

import (
	"context"
	"errors"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/store"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
	"safe/pkg/platform/sentinel"
)

// initialize creates the registry already latched. There is no path that
// stores an uninitialized registry, and the registry key must sign, so nobody
// holding only its ID can claim it first.
//
// Accounts: [0] registry (signer), [1] vault.
func (s *Service) initialize(ctx context.Context, st store.Store, env instruction.Envelope, p instruction.Initialize) (*plan, error) {
	registryID := env.Account(0).ID
	vault := env.Account(1).ID

	if err := requireSigner(env.Account(0), registryID); err != nil {
		return nil, err
	}

	existing, err := st.Registry(ctx, registryID)
	switch {
	case err == nil:
		if existing.Owner != s.program {
			return nil, dErrors.New(dErrors.CodeInvalidOwner, "registry is owned by another program")
		}
		return nil, dErrors.New(dErrors.CodeAlreadyInitialized, "registry already initialized")
	case errors.Is(err, sentinel.ErrWrongKind):
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "account already holds another record")
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load registry")
	}

	vaultAuthority := models.DeriveVaultAuthority(s.program, registryID, p.SignerNonce)
	controller, err := s.assets.Controller(ctx, vault)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidOwner, "vault account does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve vault controller")
	}
	if controller != vaultAuthority {
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "vault is not controlled by the derived vault authority")
	}

	registry := &models.SafeRegistry{
		ID:             registryID,
		Owner:          s.program,
		Authority:      p.Authority,
		CustodiedAsset: p.CustodiedAsset,
		ReceiptAsset:   p.ReceiptAsset,
		Vault:          vault,
		VaultAuthority: vaultAuthority,
		SignerNonce:    p.SignerNonce,
		Initialized:    true,
	}
	return &plan{
		newRegistry: registry,
		event:       audit.EventRegistryInitialized,
		actor:       p.Authority,
		peer:        vault,
	}, nil
}
