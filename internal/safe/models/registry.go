package models

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/crypto/blake2b"

	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
)

const vaultAuthoritySeed = "safe/vault-authority"

// SafeRegistry is the per-deployment configuration record. It is created
// already initialized; there is no uninitialized registry on disk.
type SafeRegistry struct {
	ID                    domain.AccountID `json:"id"`
	Owner                 domain.ProgramID `json:"owner"`
	Authority             domain.AccountID `json:"authority"`
	CustodiedAsset        domain.AssetID   `json:"custodied_asset"`
	ReceiptAsset          domain.AssetID   `json:"receipt_asset"`
	Vault                 domain.AccountID `json:"vault"`
	VaultAuthority        domain.AccountID `json:"vault_authority"`
	TotalOutstandingValue uint64           `json:"total_outstanding_value"`
	ForfeitedValue        uint64           `json:"forfeited_value"`
	SignerNonce           uint64           `json:"signer_nonce"`
	Initialized           bool             `json:"initialized"`
}

// DeriveVaultAuthority derives the program-controlled signer for a registry's
// vault. The same inputs always yield the same account.
func DeriveVaultAuthority(program domain.ProgramID, registry domain.AccountID, nonce uint64) domain.AccountID {
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)

	buf := make([]byte, 0, 16+16+len(vaultAuthoritySeed)+8)
	buf = append(buf, program[:]...)
	buf = append(buf, registry[:]...)
	buf = append(buf, vaultAuthoritySeed...)
	buf = append(buf, nonceBytes[:]...)
	sum := blake2b.Sum256(buf)

	var out domain.AccountID
	copy(out[:], sum[:16])
	out[6] = (out[6] & 0x0f) | 0x80 // version 8: custom
	out[8] = (out[8] & 0x3f) | 0x80 // RFC 4122 variant
	return out
}

// IsAuthority reports whether account holds administrative authority.
func (r *SafeRegistry) IsAuthority(account domain.AccountID) bool {
	return r.Authority == account
}

// Credit adds newly custodied value to the aggregate supply.
func (r *SafeRegistry) Credit(amount uint64) error {
	total, carry := bits.Add64(r.TotalOutstandingValue, amount, 0)
	if carry != 0 {
		return dErrors.New(dErrors.CodeInvalidSchedule, "deposit overflows outstanding supply")
	}
	r.TotalOutstandingValue = total
	return nil
}

// Debit removes value released from custody (withdrawn or forfeited).
func (r *SafeRegistry) Debit(amount uint64) {
	if amount > r.TotalOutstandingValue {
		violate(r.ID, "debiting %d underflows outstanding %d", amount, r.TotalOutstandingValue)
	}
	r.TotalOutstandingValue -= amount
}

// RecordForfeit tracks slashed value that left the beneficiaries' claims.
func (r *SafeRegistry) RecordForfeit(amount uint64) {
	r.Debit(amount)
	r.ForfeitedValue += amount
}

// Clone returns a copy.
func (r *SafeRegistry) Clone() *SafeRegistry {
	c := *r
	return &c
}
