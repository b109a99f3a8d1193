package state

import (
	"VaultLedger/internal/addressing"
)

// DepositManager holds the active deposit records, at most one per user.
// Completed deposits leave the active set; their history lives in the
// projections.
type DepositManager struct {
	deposits map[addressing.Identity]*Deposit
}

func NewDepositManager() *DepositManager {
	return &DepositManager{
		deposits: make(map[addressing.Identity]*Deposit),
	}
}

// Get returns the user's live deposit or nil
func (dm *DepositManager) Get(user addressing.Identity) *Deposit {
	return dm.deposits[user]
}

// Open registers a new deposit record. The caller has already checked that
// the user has no live deposit.
func (dm *DepositManager) Open(d *Deposit) {
	dm.deposits[d.User] = d
}

// Remove drops a record from the active set after completion
func (dm *DepositManager) Remove(user addressing.Identity) {
	delete(dm.deposits, user)
}

// Restore directly sets a record (used for snapshot restore)
func (dm *DepositManager) Restore(d *Deposit) {
	dm.deposits[d.User] = d
}

// All returns every live deposit (for snapshots and iteration)
func (dm *DepositManager) All() []*Deposit {
	result := make([]*Deposit, 0, len(dm.deposits))
	for _, d := range dm.deposits {
		result = append(result, d)
	}
	return result
}

// Count returns the number of live deposits
func (dm *DepositManager) Count() int {
	return len(dm.deposits)
}
