// Package instruction defines the caller-facing request shape: a kind tag, a
// typed payload per kind and an ordered list of participant accounts.
//
// Payload is a closed sum type. Adding a kind means adding a payload struct,
// a layout entry and a case in the service processor's switch.
package instruction

import (
	"fmt"

	"safe/internal/safe/models"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
)

// Kind tags an instruction.
type Kind string

const (
	KindInitialize   Kind = "initialize"
	KindDeposit      Kind = "deposit"
	KindMintReceipt  Kind = "mint_receipt"
	KindBurnReceipt  Kind = "burn_receipt"
	KindWithdraw     Kind = "withdraw"
	KindSlash        Kind = "slash"
	KindSetAuthority Kind = "set_authority"
)

// Kinds lists every instruction kind.
var Kinds = []Kind{
	KindInitialize,
	KindDeposit,
	KindMintReceipt,
	KindBurnReceipt,
	KindWithdraw,
	KindSlash,
	KindSetAuthority,
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	Kind() Kind
	validate() error
}

type Initialize struct {
	CustodiedAsset domain.AssetID   `json:"custodied_asset"`
	ReceiptAsset   domain.AssetID   `json:"receipt_asset"`
	Authority      domain.AccountID `json:"authority"`
	SignerNonce    uint64           `json:"signer_nonce"`
}

type Deposit struct {
	Beneficiary domain.AccountID `json:"beneficiary"`
	Schedule    models.Schedule  `json:"schedule"`
}

// MaxMintUnits caps the receipts one MintReceipt may create; each unit is
// its own record.
const MaxMintUnits = 64

type MintReceipt struct {
	Units uint64 `json:"units"`
}

// BurnReceipt names its receipts through the account list.
type BurnReceipt struct{}

type Withdraw struct {
	Amount uint64 `json:"amount"`
}

type Slash struct {
	Amount uint64 `json:"amount"`
}

type SetAuthority struct {
	NewAuthority domain.AccountID `json:"new_authority"`
}

func (Initialize) Kind() Kind   { return KindInitialize }
func (Deposit) Kind() Kind      { return KindDeposit }
func (MintReceipt) Kind() Kind  { return KindMintReceipt }
func (BurnReceipt) Kind() Kind  { return KindBurnReceipt }
func (Withdraw) Kind() Kind     { return KindWithdraw }
func (Slash) Kind() Kind        { return KindSlash }
func (SetAuthority) Kind() Kind { return KindSetAuthority }

func (p Initialize) validate() error {
	if p.CustodiedAsset.IsNil() || p.ReceiptAsset.IsNil() {
		return decodeError("initialize requires custodied and receipt assets")
	}
	if p.CustodiedAsset == p.ReceiptAsset {
		return decodeError("receipt asset must differ from custodied asset")
	}
	if p.Authority.IsNil() {
		return decodeError("initialize requires an authority")
	}
	return nil
}

// Schedule contents are checked by the handler so they surface as
// InvalidSchedule rather than Decode.
func (p Deposit) validate() error {
	if p.Beneficiary.IsNil() {
		return decodeError("deposit requires a beneficiary")
	}
	return nil
}

func (p MintReceipt) validate() error {
	if p.Units == 0 {
		return decodeError("units must be at least 1")
	}
	if p.Units > MaxMintUnits {
		return decodeError(fmt.Sprintf("at most %d units per instruction", MaxMintUnits))
	}
	return nil
}

func (BurnReceipt) validate() error { return nil }

func (p Withdraw) validate() error {
	if p.Amount == 0 {
		return decodeError("amount must be positive")
	}
	return nil
}

func (p Slash) validate() error {
	if p.Amount == 0 {
		return decodeError("amount must be positive")
	}
	return nil
}

func (p SetAuthority) validate() error {
	if p.NewAuthority.IsNil() {
		return decodeError("new authority is required")
	}
	return nil
}

func decodeError(msg string) error {
	return dErrors.New(dErrors.CodeDecode, msg)
}
