package blob

import (
	"context"
	"sort"
	"sync"
)

type object struct {
	data        []byte
	contentType string
}

// MemoryStore implements Store in process memory. Used in development
// mode and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]object
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string]object),
	}
}

// Get reads an object.
func (s *MemoryStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, nil
}

// Put writes an object, replacing any existing one.
func (s *MemoryStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]object)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	s.buckets[bucket][key] = object{data: stored, contentType: contentType}
	return nil
}

// Remove deletes an object. Removing a missing object is a no-op.
func (s *MemoryStore) Remove(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buckets[bucket], key)
	return nil
}

// Keys returns the sorted object keys in a bucket. Test helper.
func (s *MemoryStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
