package achievements

import (
	"bytes"
	"errors"
	"testing"

	"github.com/agehcx/flashloan-playground/core/state"
	"github.com/agehcx/flashloan-playground/storage"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestTracker(t *testing.T, minter [20]byte) *Tracker {
	t.Helper()
	tracker := NewTracker(minter)
	tracker.SetStore(state.NewManager(storage.NewMemDB()))
	tracker.SetNowFunc(func() int64 { return 1_700_000_000 })
	return tracker
}

func TestMintAssignsSequentialIDs(t *testing.T) {
	minter := testAddress(0xEE)
	tracker := newTestTracker(t, minter)

	first, err := tracker.Mint(minter, testAddress(0x01))
	if err != nil {
		t.Fatalf("mint first badge: %v", err)
	}
	if first.ID != 0 {
		t.Fatalf("expected first badge id 0, got %d", first.ID)
	}
	second, err := tracker.Mint(minter, testAddress(0x02))
	if err != nil {
		t.Fatalf("mint second badge: %v", err)
	}
	if second.ID != 1 {
		t.Fatalf("expected second badge id 1, got %d", second.ID)
	}
	if first.MintedAt != 1_700_000_000 {
		t.Fatalf("unexpected mint timestamp %d", first.MintedAt)
	}
}

func TestMintRejectsUnknownMinter(t *testing.T) {
	tracker := newTestTracker(t, testAddress(0xEE))

	if _, err := tracker.Mint(testAddress(0x66), testAddress(0x01)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if has, _ := tracker.HasBadge(testAddress(0x01)); has {
		t.Fatalf("expected no badge after rejected mint")
	}
}

func TestMintIsOncePerUser(t *testing.T) {
	minter := testAddress(0xEE)
	user := testAddress(0x01)
	tracker := newTestTracker(t, minter)

	badge, err := tracker.Mint(minter, user)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := tracker.Mint(minter, user); !errors.Is(err, ErrAlreadyBadged) {
		t.Fatalf("expected ErrAlreadyBadged, got %v", err)
	}

	held, err := tracker.BadgeOf(user)
	if err != nil {
		t.Fatalf("badge lookup: %v", err)
	}
	if held.ID != badge.ID || held.Owner != user {
		t.Fatalf("badge mutated by rejected mint: %+v", held)
	}
}

func TestBadgeOfUnbadgedUser(t *testing.T) {
	tracker := newTestTracker(t, testAddress(0xEE))

	if _, err := tracker.BadgeOf(testAddress(0x01)); !errors.Is(err, ErrBadgeNotFound) {
		t.Fatalf("expected ErrBadgeNotFound, got %v", err)
	}
	has, err := tracker.HasBadge(testAddress(0x01))
	if err != nil {
		t.Fatalf("has badge: %v", err)
	}
	if has {
		t.Fatalf("expected HasBadge to be false")
	}
}

func TestBadgesAreSoulbound(t *testing.T) {
	minter := testAddress(0xEE)
	owner := testAddress(0x01)
	tracker := newTestTracker(t, minter)

	badge, err := tracker.Mint(minter, owner)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tracker.Transfer(owner, testAddress(0x02), badge.ID); !errors.Is(err, ErrNonTransferable) {
		t.Fatalf("expected ErrNonTransferable on transfer, got %v", err)
	}
	if err := tracker.Transfer(owner, owner, badge.ID); !errors.Is(err, ErrNonTransferable) {
		t.Fatalf("expected ErrNonTransferable on self-transfer, got %v", err)
	}
	if err := tracker.Approve(owner, testAddress(0x02), badge.ID); !errors.Is(err, ErrNonTransferable) {
		t.Fatalf("expected ErrNonTransferable on approve, got %v", err)
	}

	held, err := tracker.BadgeOf(owner)
	if err != nil {
		t.Fatalf("badge lookup: %v", err)
	}
	if held.Owner != owner {
		t.Fatalf("ownership changed to %x", held.Owner)
	}
}
