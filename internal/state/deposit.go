package state

import (
	"VaultLedger/internal/addressing"
)

// DepositState tracks a deposit record through its withdrawal lifecycle
type DepositState int32

const (
	DepositStateDeposited DepositState = iota
	DepositStateWithdrawRequested
	DepositStateWithdrawReady
	DepositStateWithdrawCompleted
)

func (ds DepositState) String() string {
	switch ds {
	case DepositStateDeposited:
		return "Deposited"
	case DepositStateWithdrawRequested:
		return "WithdrawRequested"
	case DepositStateWithdrawReady:
		return "WithdrawReady"
	case DepositStateWithdrawCompleted:
		return "WithdrawCompleted"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. The lifecycle is strictly
// linear; WithdrawCompleted is terminal.
func (ds DepositState) CanTransitionTo(next DepositState) bool {
	validTransitions := map[DepositState][]DepositState{
		DepositStateDeposited: {
			DepositStateWithdrawRequested,
		},
		DepositStateWithdrawRequested: {
			DepositStateWithdrawReady,
		},
		DepositStateWithdrawReady: {
			DepositStateWithdrawCompleted,
		},
		DepositStateWithdrawCompleted: {},
	}

	allowed, ok := validTransitions[ds]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// Deposit represents a user's live time-locked deposit record
type Deposit struct {
	User             addressing.Identity
	Address          addressing.Address // derived from the user identity
	Amount           int64
	DepositTime      int64 // Unix seconds (versioned input time at open)
	UnlockTime       int64 // DepositTime + lock period
	InterestCredited int64
	CommissionRate   int64 // parts-per-thousand, fixed at open
	State            DepositState
	Version          int64
}

// LockDuration returns the total lock period in seconds
func (d *Deposit) LockDuration() int64 {
	return d.UnlockTime - d.DepositTime
}

// Elapsed returns seconds since the deposit opened
func (d *Deposit) Elapsed(now int64) int64 {
	return now - d.DepositTime
}

// Unlocked reports whether the lock period has passed
func (d *Deposit) Unlocked(now int64) bool {
	return now >= d.UnlockTime
}

// CanonicalBytes returns deterministic serialization for hashing
func (d *Deposit) CanonicalBytes() []byte {
	buf := make([]byte, 0, 105)

	// user (32 bytes)
	buf = append(buf, d.User[:]...)

	// address (32 bytes)
	buf = append(buf, d.Address[:]...)

	// amount (8 bytes LE)
	buf = appendInt64LE(buf, d.Amount)

	// deposit_time (8 bytes LE)
	buf = appendInt64LE(buf, d.DepositTime)

	// unlock_time (8 bytes LE)
	buf = appendInt64LE(buf, d.UnlockTime)

	// interest_credited (8 bytes LE)
	buf = appendInt64LE(buf, d.InterestCredited)

	// commission_rate (8 bytes LE)
	buf = appendInt64LE(buf, d.CommissionRate)

	// state (1 byte)
	buf = append(buf, byte(d.State))

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
