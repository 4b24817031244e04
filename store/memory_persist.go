package store

import (
	"sync"

	"github.com/btcpay/paychan/capability"
)

// MemoryPersist is an in-memory capability.Persist, grounded on the
// teacher's MemoryStorage: a mutex-guarded map keyed by the store's own
// record key.
type MemoryPersist struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryPersist returns an empty MemoryPersist.
func NewMemoryPersist() *MemoryPersist {
	return &MemoryPersist{data: make(map[string][]byte)}
}

func (m *MemoryPersist) Save(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), data...)
	m.data[key] = cp
	return nil
}

func (m *MemoryPersist) Load(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryPersist) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryPersist) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Make sure MemoryPersist implements capability.Persist.
var _ capability.Persist = &MemoryPersist{}
