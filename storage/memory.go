package storage

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests. It implements the same
// contract as BadgerStore so packages under test can be wired against
// either without changing behavior.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Start() error { return nil }
func (s *MemoryStore) Stop() error  { return nil }

func (s *MemoryStore) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (s *MemoryStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (s *MemoryStore) Del(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *MemoryStore) GetMany(prefix []byte) ([]*KeyValueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	result := make([]*KeyValueItem, 0, len(keys))
	for _, k := range keys {
		result = append(result, &KeyValueItem{Key: []byte(k), Value: append([]byte{}, s.data[k]...)})
	}
	return result, nil
}

func (s *MemoryStore) CountByPrefix(prefix []byte) (int64, error) {
	if len(prefix) == 0 {
		return 0, fmt.Errorf("cannot count prefix with length 0")
	}
	items, err := s.GetMany(prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(items)), nil
}

func (s *MemoryStore) ListKeys(prefix []byte) ([][]byte, error) {
	items, err := s.GetMany(prefix)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	return keys, nil
}
