// Package domain defines the typed identities shared across the safe.
//
// Every participant the ledger names (registries, vesting ledgers, receipts,
// token balances, signers) is an AccountID. Asset types and the owning program
// get their own types so they can never be passed where an account is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "safe/pkg/domain-errors"
)

type (
	// AccountID addresses any record or balance the safe touches.
	AccountID uuid.UUID
	// AssetID identifies a fungible asset type (custodied asset or receipt asset).
	AssetID uuid.UUID
	// ProgramID identifies the program that exclusively owns a set of records.
	ProgramID uuid.UUID
)

func NewAccountID() AccountID { return AccountID(uuid.New()) }
func NewAssetID() AssetID     { return AssetID(uuid.New()) }
func NewProgramID() ProgramID { return ProgramID(uuid.New()) }

func (id AccountID) String() string { return uuid.UUID(id).String() }
func (id AssetID) String() string   { return uuid.UUID(id).String() }
func (id ProgramID) String() string { return uuid.UUID(id).String() }

func (id AccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AssetID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ProgramID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseAccountID parses a non-nil account identity.
func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account id")
	return AccountID(u), err
}

// ParseAssetID parses a non-nil asset identity.
func ParseAssetID(s string) (AssetID, error) {
	u, err := parseUUID(s, "asset id")
	return AssetID(u), err
}

// ParseProgramID parses a non-nil program identity.
func ParseProgramID(s string) (ProgramID, error) {
	u, err := parseUUID(s, "program id")
	return ProgramID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}

// Text marshaling lets typed IDs travel as plain UUID strings in JSON and YAML.

func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AssetID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id ProgramID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AccountID) UnmarshalText(b []byte) error {
	parsed, err := ParseAccountID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AssetID) UnmarshalText(b []byte) error {
	parsed, err := ParseAssetID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ProgramID) UnmarshalText(b []byte) error {
	parsed, err := ParseProgramID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
