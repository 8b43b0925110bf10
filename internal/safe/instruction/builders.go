package instruction

import (
	"safe/internal/safe/models"
	"safe/pkg/domain"
)

func signer(id domain.AccountID) AccountMeta   { return AccountMeta{ID: id, Signer: true} }
func writable(id domain.AccountID) AccountMeta { return AccountMeta{ID: id, Writable: true} }
func readonly(id domain.AccountID) AccountMeta { return AccountMeta{ID: id} }

func signerWritable(id domain.AccountID) AccountMeta {
	return AccountMeta{ID: id, Signer: true, Writable: true}
}

// NewInitialize builds an Initialize for registry, custodying into vault.
// The registry key signs its own creation.
func NewInitialize(registry, vault domain.AccountID, p Initialize) Envelope {
	return Envelope{
		Payload:  p,
		Accounts: []AccountMeta{signerWritable(registry), readonly(vault)},
	}
}

// NewDeposit builds a Deposit that creates ledger funded from source.
func NewDeposit(ledger, source, sourceAuthority, vault, registry domain.AccountID, beneficiary domain.AccountID, schedule models.Schedule) Envelope {
	return Envelope{
		Payload: Deposit{Beneficiary: beneficiary, Schedule: schedule},
		Accounts: []AccountMeta{
			writable(ledger),
			writable(source),
			signer(sourceAuthority),
			writable(vault),
			writable(registry),
		},
	}
}

// NewMintReceipt builds a MintReceipt crediting units to holder.
func NewMintReceipt(beneficiary, ledger, holder, registry domain.AccountID, units uint64) Envelope {
	return Envelope{
		Payload: MintReceipt{Units: units},
		Accounts: []AccountMeta{
			signer(beneficiary),
			writable(ledger),
			writable(holder),
			readonly(registry),
		},
	}
}

// NewBurnReceipt builds a BurnReceipt for receipts held by holder.
func NewBurnReceipt(signerID, holder, ledger, registry domain.AccountID, receipts ...domain.AccountID) Envelope {
	accounts := []AccountMeta{
		signer(signerID),
		writable(holder),
		writable(ledger),
		readonly(registry),
	}
	for _, r := range receipts {
		accounts = append(accounts, writable(r))
	}
	return Envelope{Payload: BurnReceipt{}, Accounts: accounts}
}

// NewWithdraw builds a Withdraw paying amount to destination.
func NewWithdraw(beneficiary, ledger, destination, vault, registry domain.AccountID, amount uint64) Envelope {
	return Envelope{
		Payload: Withdraw{Amount: amount},
		Accounts: []AccountMeta{
			signer(beneficiary),
			writable(ledger),
			writable(destination),
			writable(vault),
			writable(registry),
		},
	}
}

// NewSlash builds a Slash. reclaim is appended when non-nil.
func NewSlash(authority, ledger, registry, vault, reclaim domain.AccountID, amount uint64) Envelope {
	accounts := []AccountMeta{
		signer(authority),
		writable(ledger),
		writable(registry),
		writable(vault),
	}
	if !reclaim.IsNil() {
		accounts = append(accounts, writable(reclaim))
	}
	return Envelope{Payload: Slash{Amount: amount}, Accounts: accounts}
}

// NewSetAuthority builds a SetAuthority.
func NewSetAuthority(authority, registry, newAuthority domain.AccountID) Envelope {
	return Envelope{
		Payload:  SetAuthority{NewAuthority: newAuthority},
		Accounts: []AccountMeta{signer(authority), writable(registry)},
	}
}
