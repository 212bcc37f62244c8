package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/agehcx/flashloan-playground/storage"
)

// Manager layers an RLP-encoded key-value view with write journaling on top
// of the raw database. Writes accumulate in a dirty overlay until Commit
// flushes them; Snapshot/RevertTo unwind the overlay so a multi-step
// operation can be discarded as a unit before anything reaches disk.
//
// Snapshot markers index into the journal, so a Commit invalidates every
// outstanding marker. Callers that mix snapshots with commits must serialize
// through Update, which holds the transaction lock for the whole cycle.
type Manager struct {
	// updateMu serializes whole transactions; mu protects the maps within
	// individual reads and writes.
	updateMu sync.Mutex
	mu       sync.Mutex
	db       storage.Database
	dirty    map[string][]byte
	journal  []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	hadPrev bool
}

// NewManager constructs a state manager bound to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

// KVGet decodes the value stored under key into out. It returns false when
// the key has never been written.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, errors.New("state: manager not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok, err := m.lookup(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value and records it in the dirty overlay. The previous
// overlay entry, if any, is journaled so RevertTo can restore it.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return errors.New("state: manager not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	prev, hadPrev := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, hadPrev: hadPrev})
	m.dirty[k] = encoded
	return nil
}

// Snapshot returns a marker identifying the current journal position.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// RevertTo unwinds every write recorded after the supplied snapshot marker.
// Reverted keys fall back to their last committed value. A marker that no
// longer indexes into the journal means a commit ran underneath an open
// transaction; reverting past it would silently keep writes that the caller
// believes undone, so the call panics instead.
func (m *Manager) RevertTo(snapshot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot < 0 || snapshot > len(m.journal) {
		panic(fmt.Sprintf("state: snapshot %d cannot be reverted, journal has %d entries", snapshot, len(m.journal)))
	}
	for i := len(m.journal) - 1; i >= snapshot; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:snapshot]
}

// Update runs fn as one serialized transaction: a snapshot is taken up
// front, fn's writes are reverted if it errors, and committed to the
// database if it succeeds. Concurrent Update and Commit calls block until
// the transaction finishes, so fn never sees its snapshot marker
// invalidated by another writer.
func (m *Manager) Update(fn func() error) error {
	if m == nil {
		return errors.New("state: manager not initialised")
	}
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	snapshot := m.Snapshot()
	if err := fn(); err != nil {
		m.RevertTo(snapshot)
		return err
	}
	return m.commit()
}

// Commit flushes the dirty overlay to the database and resets the journal,
// invalidating all snapshot markers. It blocks while an Update transaction
// is in flight.
func (m *Manager) Commit() error {
	if m == nil {
		return errors.New("state: manager not initialised")
	}
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	return m.commit()
}

func (m *Manager) commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range m.dirty {
		if err := m.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state: commit %q: %w", key, err)
		}
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

func (m *Manager) lookup(key []byte) ([]byte, bool, error) {
	if raw, ok := m.dirty[string(key)]; ok {
		return raw, true, nil
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}
