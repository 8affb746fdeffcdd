package tokenstore

import "sync"

// MemoryStore keeps tokens in process memory. It does not survive restarts;
// it is the default for tests and short-lived programs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (st *MemoryStore) Get(key string) (string, bool, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	value, ok := st.values[key]
	return value, ok, nil
}

func (st *MemoryStore) Set(key, value string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.values[key] = value
	return nil
}

func (st *MemoryStore) Clear(key string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.values, key)
	return nil
}

func (st *MemoryStore) Close() error {
	return nil
}
