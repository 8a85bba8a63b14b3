// Package maps implements the Shared Map Substrate: the pinned
// key/value tables both data-plane stages open by well-known path (the
// ACL table, the session table, and the statistics table). It exposes a
// small Table interface so the Classifier Engine and Session Tracker
// never depend directly on cilium/ebpf, letting tests run the real
// lookup/update/delete/iterate logic against an in-memory fake.
package maps

import (
	"github.com/wardfw/ward/internal/errors"
)

// Table is a fixed key/value table backed either by a real pinned eBPF
// map (see PinnedTable) or an in-memory fake (see MemoryTable).
//
// The contract matches spec §4.1: reads are lock-free and observe
// either the pre-update or post-update value atomically per key; there
// is no cross-key atomicity.
type Table interface {
	// Lookup returns the value for key, or a NotFound-flavored error.
	Lookup(key []byte) ([]byte, error)
	// Update inserts or replaces the value for key. Returns
	// CapacityExhausted if the table is full and key is new.
	Update(key, value []byte) error
	// Delete removes key. It is not an error to delete a missing key.
	Delete(key []byte) error
	// Iterate returns an iterator over all entries. The iterator is a
	// point-in-time snapshot of keys observed during the scan; entries
	// mutated concurrently may or may not be reflected, per §4.1.
	Iterate() Iterator
	// Count returns the number of entries currently stored.
	Count() int
	// MaxEntries returns the table's configured capacity.
	MaxEntries() int
	// Close releases any resources held by the table.
	Close() error
}

// Iterator walks the entries of a Table.
type Iterator interface {
	// Next advances the iterator, returning false when exhausted.
	Next() bool
	// Key returns the current entry's key.
	Key() []byte
	// Value returns the current entry's value.
	Value() []byte
}

// ErrKeyNotFound is a sentinel KindNotFound error returned by Lookup.
var ErrKeyNotFound = errors.New(errors.KindNotFound, "key not found")
