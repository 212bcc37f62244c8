package events

import (
	"encoding/hex"
	"strconv"

	"github.com/agehcx/flashloan-playground/core/types"
)

// TypeBadgeMinted is emitted when an initiator earns their first-loan badge.
const TypeBadgeMinted = "achievements.badge.minted"

// BadgeMinted captures a newly issued soulbound badge.
type BadgeMinted struct {
	User    [20]byte
	BadgeID uint64
}

// EventType implements the Event interface.
func (BadgeMinted) EventType() string { return TypeBadgeMinted }

// Event converts the payload to the generic attribute form.
func (e BadgeMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeBadgeMinted,
		Attributes: map[string]string{
			"user":    hex.EncodeToString(e.User[:]),
			"badgeId": strconv.FormatUint(e.BadgeID, 10),
		},
	}
}
