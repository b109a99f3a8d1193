package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCustodyCredit JournalType = iota
	JournalTypePrincipalLock
	JournalTypeInterestPayout
	JournalTypeClawback
	JournalTypeInvestmentSweep
	JournalTypeWithdrawalStage
	JournalTypeInterestFund
	JournalTypeInterestDefund
	JournalTypePrincipalRelease
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeCustodyCredit:
		return "CustodyCredit"
	case JournalTypePrincipalLock:
		return "PrincipalLock"
	case JournalTypeInterestPayout:
		return "InterestPayout"
	case JournalTypeClawback:
		return "Clawback"
	case JournalTypeInvestmentSweep:
		return "InvestmentSweep"
	case JournalTypeWithdrawalStage:
		return "WithdrawalStage"
	case JournalTypeInterestFund:
		return "InterestFund"
	case JournalTypeInterestDefund:
		return "InterestDefund"
	case JournalTypePrincipalRelease:
		return "PrincipalRelease"
	default:
		return "Unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries applied by one request
	RequestRef    string      // Idempotency key of the source request
	Sequence      int64       // Global request sequence
	DebitAccount  AccountKey  // Account receiving funds (balance increases)
	CreditAccount AccountKey  // Account paying funds (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch seconds)
}

// Batch represents the journal set applied by one request
type Batch struct {
	BatchID    uuid.UUID
	RequestRef string
	Sequence   int64
	Timestamp  int64
	Journals   []Journal
}

func (b *Batch) add(debit, credit AccountKey, asset AssetID, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		RequestRef:    b.RequestRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed.
// Note on the balance invariant: each journal entry is a balanced transfer by
// construction (a single positive amount moves from credit account to debit
// account), so per entry debits equal credits. Multi-leg requests (deposit
// principal lock plus interest payout) use multiple entries under one batch_id,
// each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		// Asset roles never mix within a transfer
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves asset %d between accounts of a different asset", j.JournalID, j.AssetID)
		}
	}

	return nil
}
