//go:build linux

package maps

import (
	"github.com/cilium/ebpf"

	"github.com/wardfw/ward/internal/errors"
)

// PinnedTable wraps a pinned eBPF map, opened by filesystem path so both
// data-plane stages can share it. Grounded on
// internal/ebpf/maps.ManagedMap in the teacher repo, adapted to the
// generic Table interface and to pinned-by-path opening rather than
// collection-relative lookup.
type PinnedTable struct {
	m          *ebpf.Map
	keySize    int
	valueSize  int
	maxEntries int
}

// OpenPinned opens the eBPF map pinned at path, validating that its key
// and value sizes match what the caller expects.
func OpenPinned(path string, keySize, valueSize int) (*PinnedTable, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "open pinned map %s", path)
	}

	info, err := m.Info()
	if err != nil {
		m.Close()
		return nil, errors.Wrapf(err, errors.KindUnavailable, "inspect pinned map %s", path)
	}

	if int(info.KeySize) != keySize || int(info.ValueSize) != valueSize {
		m.Close()
		return nil, errors.Errorf(errors.KindUnavailable,
			"pinned map %s has key/value size %d/%d, want %d/%d",
			path, info.KeySize, info.ValueSize, keySize, valueSize)
	}

	return &PinnedTable{
		m:          m,
		keySize:    keySize,
		valueSize:  valueSize,
		maxEntries: int(info.MaxEntries),
	}, nil
}

func (t *PinnedTable) validateKey(key []byte) error {
	if len(key) != t.keySize {
		return errors.Errorf(errors.KindKeyFormat, "key must be %d bytes, got %d", t.keySize, len(key))
	}
	return nil
}

// Lookup returns the value for key.
func (t *PinnedTable) Lookup(key []byte) ([]byte, error) {
	if err := t.validateKey(key); err != nil {
		return nil, err
	}
	value := make([]byte, t.valueSize)
	if err := t.m.Lookup(key, &value); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return nil, ErrKeyNotFound
		}
		return nil, errors.Wrap(err, errors.KindUnavailable, "map lookup")
	}
	return value, nil
}

// Update inserts or replaces the value for key.
func (t *PinnedTable) Update(key, value []byte) error {
	if err := t.validateKey(key); err != nil {
		return err
	}
	if len(value) != t.valueSize {
		return errors.Errorf(errors.KindKeyFormat, "value must be %d bytes, got %d", t.valueSize, len(value))
	}
	if err := t.m.Update(key, value, ebpf.UpdateAny); err != nil {
		if err == ebpf.ErrNotExist {
			return errors.Errorf(errors.KindCapacityExhausted, "map at capacity")
		}
		return errors.Wrap(err, errors.KindUnavailable, "map update")
	}
	return nil
}

// Delete removes key.
func (t *PinnedTable) Delete(key []byte) error {
	if err := t.validateKey(key); err != nil {
		return err
	}
	if err := t.m.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return errors.Wrap(err, errors.KindUnavailable, "map delete")
	}
	return nil
}

// Count scans the map to count entries. Pinned maps have no O(1) size,
// so this walks the full table.
func (t *PinnedTable) Count() int {
	it := t.Iterate()
	n := 0
	for it.Next() {
		n++
	}
	return n
}

// MaxEntries returns the map's configured capacity.
func (t *PinnedTable) MaxEntries() int { return t.maxEntries }

// Close releases the map handle.
func (t *PinnedTable) Close() error { return t.m.Close() }

// Iterate returns an iterator over all entries.
func (t *PinnedTable) Iterate() Iterator {
	return &pinnedIterator{iter: t.m.Iterate(), keySize: t.keySize, valueSize: t.valueSize}
}

type pinnedIterator struct {
	iter    *ebpf.MapIterator
	keySize int
	valueSize int
	key     []byte
	value   []byte
}

func (it *pinnedIterator) Next() bool {
	key := make([]byte, it.keySize)
	value := make([]byte, it.valueSize)
	if !it.iter.Next(&key, &value) {
		return false
	}
	it.key = key
	it.value = value
	return true
}

func (it *pinnedIterator) Key() []byte   { return it.key }
func (it *pinnedIterator) Value() []byte { return it.value }
