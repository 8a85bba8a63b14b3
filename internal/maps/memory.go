package maps

import (
	"sync"

	"github.com/wardfw/ward/internal/errors"
)

// MemoryTable is an in-memory Table used for testing and for platforms
// without eBPF support. It enforces the same capacity and key-format
// discipline a pinned kernel map would.
type MemoryTable struct {
	mu         sync.RWMutex
	entries    map[string][]byte
	keySize    int
	valueSize  int
	maxEntries int
}

// NewMemoryTable creates an in-memory table with the given fixed key
// and value sizes and capacity.
func NewMemoryTable(keySize, valueSize, maxEntries int) *MemoryTable {
	return &MemoryTable{
		entries:    make(map[string][]byte),
		keySize:    keySize,
		valueSize:  valueSize,
		maxEntries: maxEntries,
	}
}

func (m *MemoryTable) validateKey(key []byte) error {
	if len(key) != m.keySize {
		return errors.Errorf(errors.KindKeyFormat, "key must be %d bytes, got %d", m.keySize, len(key))
	}
	return nil
}

// Lookup returns the value for key.
func (m *MemoryTable) Lookup(key []byte) ([]byte, error) {
	if err := m.validateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Update inserts or replaces the value for key.
func (m *MemoryTable) Update(key, value []byte) error {
	if err := m.validateKey(key); err != nil {
		return err
	}
	if len(value) != m.valueSize {
		return errors.Errorf(errors.KindKeyFormat, "value must be %d bytes, got %d", m.valueSize, len(value))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	if _, exists := m.entries[k]; !exists && len(m.entries) >= m.maxEntries {
		return errors.Errorf(errors.KindCapacityExhausted, "table at capacity (%d entries)", m.maxEntries)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[k] = stored
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryTable) Delete(key []byte) error {
	if err := m.validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, string(key))
	return nil
}

// Count returns the number of entries currently stored.
func (m *MemoryTable) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MaxEntries returns the table's configured capacity.
func (m *MemoryTable) MaxEntries() int {
	return m.maxEntries
}

// Close is a no-op for an in-memory table.
func (m *MemoryTable) Close() error { return nil }

// Iterate returns a snapshot iterator over all entries.
func (m *MemoryTable) Iterate() Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([][]byte, 0, len(m.entries))
	values := make([][]byte, 0, len(m.entries))
	for k, v := range m.entries {
		keys = append(keys, []byte(k))
		values = append(values, v)
	}
	return &memoryIterator{keys: keys, values: values, pos: -1}
}

type memoryIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memoryIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return it.keys[it.pos]
}

func (it *memoryIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.values) {
		return nil
	}
	return it.values[it.pos]
}
