// Package ports defines the collaborators the safe core depends on but does
// not implement: the slot clock, the asset transfer primitive and the audit
// sink. Record storage lives in internal/safe/store.
package ports

import (
	"context"

	"safe/internal/safe/models"
	"safe/pkg/domain"
	"safe/pkg/platform/audit"
)

// Clock reports the current slot. Implementations must be monotonically
// non-decreasing.
type Clock interface {
	Now(ctx context.Context) models.Slot
}

// EffectKind identifies an asset operation requested by a transition.
type EffectKind string

const (
	EffectTransfer EffectKind = "transfer"
	EffectMintUnit EffectKind = "mint_unit"
	EffectBurnUnit EffectKind = "burn_unit"
)

// Effect is one asset operation. Transfers move Amount of Asset from From to
// To; unit mints credit one receipt unit to To; unit burns remove one unit from
// From. Authorizer must be the recorded controller of the debited account (or
// the mint authority of Asset for unit mints).
type Effect struct {
	Kind       EffectKind
	Asset      domain.AssetID
	From       domain.AccountID
	To         domain.AccountID
	Authorizer domain.AccountID
	Amount     uint64
}

// Transfer moves amount of asset between two balances.
func Transfer(asset domain.AssetID, from, to, authorizer domain.AccountID, amount uint64) Effect {
	return Effect{Kind: EffectTransfer, Asset: asset, From: from, To: to, Authorizer: authorizer, Amount: amount}
}

// MintUnit creates one receipt unit in destination.
func MintUnit(asset domain.AssetID, destination, authority domain.AccountID) Effect {
	return Effect{Kind: EffectMintUnit, Asset: asset, To: destination, Authorizer: authority, Amount: 1}
}

// BurnUnit destroys one receipt unit held by source.
func BurnUnit(asset domain.AssetID, source, authorizer domain.AccountID) Effect {
	return Effect{Kind: EffectBurnUnit, Asset: asset, From: source, Authorizer: authorizer, Amount: 1}
}

// AssetLedger is the external asset transfer primitive.
//
// Prepare validates a batch and reserves it without publishing it. Exactly one
// of Commit or Abort must be called on the returned Pending. A Prepare error
// means nothing was reserved.
type AssetLedger interface {
	// Controller returns the account allowed to authorize debits from account.
	Controller(ctx context.Context, account domain.AccountID) (domain.AccountID, error)
	Prepare(ctx context.Context, effects []Effect) (Pending, error)
}

// Pending is a prepared, unpublished batch of effects.
type Pending interface {
	Commit()
	Abort()
}

// AuditPublisher emits audit events for successful transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
