package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/agehcx/flashloan-playground/core/types"
)

const (
	// TypeFlashLoanExecuted is emitted once per settled loan session and
	// carries the disbursement details.
	TypeFlashLoanExecuted = "flashloan.executed"
	// TypeFlashLoanSuccess is emitted alongside TypeFlashLoanExecuted and
	// attributes the settled session to its initiator.
	TypeFlashLoanSuccess = "flashloan.success"
	// TypeFeeUpdated is emitted when the admin changes the flash-loan fee.
	TypeFeeUpdated = "flashpool.fee.updated"
	// TypeTokenWhitelisted is emitted when an asset's whitelist flag is
	// toggled.
	TypeTokenWhitelisted = "flashpool.token.whitelisted"
)

// FlashLoanExecuted captures a settled loan session from the borrower's side.
type FlashLoanExecuted struct {
	SessionID string
	Borrower  [20]byte
	Asset     string
	Amount    *big.Int
	Fee       *big.Int
}

// EventType implements the Event interface.
func (FlashLoanExecuted) EventType() string { return TypeFlashLoanExecuted }

// Event converts the payload to the generic attribute form.
func (e FlashLoanExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeFlashLoanExecuted,
		Attributes: map[string]string{
			"sessionId": e.SessionID,
			"borrower":  hex.EncodeToString(e.Borrower[:]),
			"asset":     e.Asset,
			"amount":    bigString(e.Amount),
			"fee":       bigString(e.Fee),
		},
	}
}

// FlashLoanSuccess attributes a settled loan session to its initiator.
type FlashLoanSuccess struct {
	SessionID string
	Initiator [20]byte
	Asset     string
	Amount    *big.Int
}

// EventType implements the Event interface.
func (FlashLoanSuccess) EventType() string { return TypeFlashLoanSuccess }

// Event converts the payload to the generic attribute form.
func (e FlashLoanSuccess) Event() *types.Event {
	return &types.Event{
		Type: TypeFlashLoanSuccess,
		Attributes: map[string]string{
			"sessionId": e.SessionID,
			"initiator": hex.EncodeToString(e.Initiator[:]),
			"asset":     e.Asset,
			"amount":    bigString(e.Amount),
		},
	}
}

// FeeUpdated captures a fee configuration change.
type FeeUpdated struct {
	OldBps uint32
	NewBps uint32
}

// EventType implements the Event interface.
func (FeeUpdated) EventType() string { return TypeFeeUpdated }

// Event converts the payload to the generic attribute form.
func (e FeeUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeUpdated,
		Attributes: map[string]string{
			"oldBps": strconv.FormatUint(uint64(e.OldBps), 10),
			"newBps": strconv.FormatUint(uint64(e.NewBps), 10),
		},
	}
}

// TokenWhitelisted captures a whitelist toggle for an asset.
type TokenWhitelisted struct {
	Asset   string
	Enabled bool
}

// EventType implements the Event interface.
func (TokenWhitelisted) EventType() string { return TypeTokenWhitelisted }

// Event converts the payload to the generic attribute form.
func (e TokenWhitelisted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenWhitelisted,
		Attributes: map[string]string{
			"asset":   e.Asset,
			"enabled": strconv.FormatBool(e.Enabled),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
