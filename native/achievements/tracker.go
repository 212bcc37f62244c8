package achievements

import (
	"bytes"
	"encoding/hex"
	"errors"
	"time"

	"github.com/agehcx/flashloan-playground/core/events"
	nativecommon "github.com/agehcx/flashloan-playground/native/common"
)

const moduleName = "achievements"

var errNilStore = errors.New("achievements tracker: storage not configured")

var (
	badgePrefix    = "achievements/badge/"
	nextBadgeIDKey = []byte("achievements/nextId")
)

// Storage abstracts the subset of state manager functionality required by the
// tracker.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Badge is a soulbound record tying a badge ID to its permanent owner. There
// is no transferred state: ownership is fixed at mint.
type Badge struct {
	ID       uint64
	Owner    [20]byte
	MintedAt int64
}

type storedBadge struct {
	ID       uint64
	Owner    [20]byte
	MintedAt uint64
}

// Tracker issues one badge per user the first time they settle a flash loan.
// Minting is restricted to the configured executor identity.
type Tracker struct {
	store   Storage
	minter  [20]byte
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewTracker constructs a tracker that accepts mints from the supplied
// executor identity only.
func NewTracker(minter [20]byte) *Tracker {
	return &Tracker{
		minter:  minter,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetStore wires the tracker to the external persistence layer.
func (t *Tracker) SetStore(store Storage) { t.store = store }

// SetPauses installs the module pause switches.
func (t *Tracker) SetPauses(p nativecommon.PauseView) {
	if t == nil {
		return
	}
	t.pauses = p
}

// SetEmitter configures the event emitter used by the tracker. Passing nil
// resets the emitter to a no-op implementation.
func (t *Tracker) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (t *Tracker) SetNowFunc(now func() int64) {
	if now == nil {
		t.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	t.nowFn = now
}

// Mint issues the next badge to user. The caller must be the configured
// executor identity, and a second mint for the same user is a hard error.
func (t *Tracker) Mint(caller, user [20]byte) (*Badge, error) {
	if t == nil || t.store == nil {
		return nil, errNilStore
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return nil, err
	}
	if !bytes.Equal(caller[:], t.minter[:]) {
		return nil, ErrUnauthorized
	}
	if _, err := t.BadgeOf(user); err == nil {
		return nil, ErrAlreadyBadged
	} else if !errors.Is(err, ErrBadgeNotFound) {
		return nil, err
	}
	nextID, err := t.nextBadgeID()
	if err != nil {
		return nil, err
	}
	badge := &Badge{ID: nextID, Owner: user, MintedAt: t.nowFn()}
	stored := &storedBadge{ID: badge.ID, Owner: badge.Owner, MintedAt: uint64(badge.MintedAt)}
	if err := t.store.KVPut(badgeKey(user), stored); err != nil {
		return nil, err
	}
	if err := t.store.KVPut(nextBadgeIDKey, nextID+1); err != nil {
		return nil, err
	}
	t.emitter.Emit(events.BadgeMinted{User: user, BadgeID: badge.ID})
	return badge, nil
}

// BadgeOf looks up the badge held by user. Unbadged users resolve to
// ErrBadgeNotFound.
func (t *Tracker) BadgeOf(user [20]byte) (*Badge, error) {
	if t == nil || t.store == nil {
		return nil, errNilStore
	}
	var stored storedBadge
	ok, err := t.store.KVGet(badgeKey(user), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBadgeNotFound
	}
	return &Badge{ID: stored.ID, Owner: stored.Owner, MintedAt: int64(stored.MintedAt)}, nil
}

// HasBadge reports whether user already holds a badge.
func (t *Tracker) HasBadge(user [20]byte) (bool, error) {
	_, err := t.BadgeOf(user)
	if errors.Is(err, ErrBadgeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Transfer unconditionally rejects ownership changes, including
// self-transfer. Badges are soulbound by construction.
func (t *Tracker) Transfer(caller, to [20]byte, badgeID uint64) error {
	return ErrNonTransferable
}

// Approve unconditionally rejects delegation on any badge.
func (t *Tracker) Approve(caller, spender [20]byte, badgeID uint64) error {
	return ErrNonTransferable
}

func (t *Tracker) nextBadgeID() (uint64, error) {
	var next uint64
	ok, err := t.store.KVGet(nextBadgeIDKey, &next)
	if err != nil || !ok {
		return 0, err
	}
	return next, nil
}

func badgeKey(user [20]byte) []byte {
	return []byte(badgePrefix + hex.EncodeToString(user[:]))
}
