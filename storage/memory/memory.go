// Package memory provides an in-memory store, for tests and
// short-lived sessions.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bastionvault/bastion/storage"
)

// Store implements storage.Store in process memory.
type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
}

var _ storage.Store = (*Store)(nil)

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string][]byte)}
}

func key(recordType, recordID string) string {
	return fmt.Sprintf("%s:%s", recordType, recordID)
}

func (s *Store) Put(recordType, recordID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.records[key(recordType, recordID)] = cp
	return nil
}

func (s *Store) Get(recordType, recordID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[key(recordType, recordID)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *Store) Delete(recordType, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(recordType, recordID)
	if _, ok := s.records[k]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(s.records, k)
	return nil
}

func (s *Store) List(recordType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := recordType + ":"
	var ids []string
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			ids = append(ids, k[len(prefix):])
		}
	}
	return ids, nil
}

func (s *Store) WipeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.records {
		for i := range v {
			v[i] = 0
		}
		delete(s.records, k)
	}
	return nil
}
