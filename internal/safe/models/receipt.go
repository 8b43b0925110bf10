package models

import "safe/pkg/domain"

// Receipt is one minted locked-value unit. Ledger is a lookup key only; the
// receipt's lifetime is independent of the ledger record.
type Receipt struct {
	ID          domain.AccountID `json:"id"`
	Owner       domain.ProgramID `json:"owner"`
	Ledger      domain.AccountID `json:"ledger"`
	Asset       domain.AssetID   `json:"asset"`
	Holder      domain.AccountID `json:"holder"`
	Burned      bool             `json:"burned"`
	Initialized bool             `json:"initialized"`
}

// NewReceipt returns an initialized, live receipt.
func NewReceipt(id domain.AccountID, owner domain.ProgramID, ledger domain.AccountID, asset domain.AssetID, holder domain.AccountID) *Receipt {
	return &Receipt{
		ID:          id,
		Owner:       owner,
		Ledger:      ledger,
		Asset:       asset,
		Holder:      holder,
		Initialized: true,
	}
}

// Live reports an initialized receipt that has not been burned.
func (r *Receipt) Live() bool {
	return r.Initialized && !r.Burned
}

// Burn latches the receipt. Burning twice is a defect.
func (r *Receipt) Burn() {
	if r.Burned {
		violate(r.ID, "receipt already burned")
	}
	r.Burned = true
}

// Clone returns a copy.
func (r *Receipt) Clone() *Receipt {
	c := *r
	return &c
}
