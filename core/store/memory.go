package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is a Store backed by a map. Failures can be injected per key,
// which makes it the transport of choice for tests and synthetic datasets.
type MemoryStore struct {
	name string

	mu      sync.RWMutex
	objects map[string][]byte
	fail    map[string]error
	gets    map[string]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		objects: make(map[string][]byte),
		fail:    make(map[string]error),
		gets:    make(map[string]int),
	}
}

// Name implements Store.
func (s *MemoryStore) Name() string {
	return "mem://" + s.name
}

// Put stores a copy of data under key.
func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[Join(key)] = slices.Clone(data)
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, Join(key))
}

// FailWith makes every Get of key return err wrapped as a TransientError.
// A nil err clears the injected failure.
func (s *MemoryStore) FailWith(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, Join(key))
		return
	}
	s.fail[Join(key)] = err
}

// Gets returns how many times key was requested.
func (s *MemoryStore) Gets(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gets[Join(key)]
}

// Keys returns every stored key in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.objects))
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, transient(s, key, err)
	}
	key = Join(key)

	s.mu.Lock()
	s.gets[key]++
	failErr := s.fail[key]
	data, ok := s.objects[key]
	s.mu.Unlock()

	if failErr != nil {
		return nil, transient(s, key, failErr)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return slices.Clone(data), nil
}
