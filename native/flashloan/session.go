package flashloan

import (
	"math/big"

	"github.com/google/uuid"
)

// SessionStatus tracks a loan session through its lifecycle. Settled and
// Aborted are terminal.
type SessionStatus uint8

const (
	StatusIdle SessionStatus = iota
	StatusDisbursed
	StatusAwaitingRepayment
	StatusSettled
	StatusAborted
)

// String returns the lowercase label for the status.
func (s SessionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDisbursed:
		return "disbursed"
	case StatusAwaitingRepayment:
		return "awaiting_repayment"
	case StatusSettled:
		return "settled"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// LoanSession captures the ephemeral state of a single borrow-callback-repay
// sequence. Sessions are created at the start of FlashLoan and discarded at
// its end; they are never persisted.
type LoanSession struct {
	ID            uuid.UUID
	Asset         string
	Amount        *big.Int
	Fee           *big.Int
	Receiver      [20]byte
	Initiator     [20]byte
	Status        SessionStatus
	BalanceBefore *big.Int
}

func newLoanSession(initiator [20]byte, asset string, amount, fee, balanceBefore *big.Int, receiver [20]byte) *LoanSession {
	return &LoanSession{
		ID:            uuid.New(),
		Asset:         asset,
		Amount:        new(big.Int).Set(amount),
		Fee:           new(big.Int).Set(fee),
		Receiver:      receiver,
		Initiator:     initiator,
		Status:        StatusIdle,
		BalanceBefore: new(big.Int).Set(balanceBefore),
	}
}
