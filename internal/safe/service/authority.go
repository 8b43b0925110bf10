package service

import (
	"context"

	"safe/internal/safe/instruction"
	"safe/internal/safe/store"
	"safe/pkg/platform/audit"
)

// setAuthority hands the registry to a new authority.
//
// Accounts: [0] current authority (signer), [1] registry.
func (s *Service) setAuthority(ctx context.Context, st store.Store, env instruction.Envelope, p instruction.SetAuthority) (*plan, error) {
	current := env.Account(0)
	registry, err := s.loadRegistry(ctx, st, env.Account(1).ID)
	if err != nil {
		return nil, err
	}
	if err := requireSigner(current, registry.Authority); err != nil {
		return nil, err
	}

	registry.Authority = p.NewAuthority
	return &plan{
		registry: registry,
		event:    audit.EventAuthorityChanged,
		actor:    current.ID,
		peer:     p.NewAuthority,
	}, nil
}
