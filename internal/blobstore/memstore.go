package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/avesa-io/avesa/internal/avesaerr"
)

// MemStore is an in-process BlobStore used by tests that exercise the
// Chunk Processor / Canonical Transformer without a real object store.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (s *MemStore) Put(_ context.Context, path string, contents []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(contents))
	copy(cp, contents)
	s.objects[path] = cp
	return nil
}

func (s *MemStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, avesaerr.New("blobstore.Get", avesaerr.KindNotFound, fmt.Errorf("path %s", path))
	}
	return data, nil
}

func (s *MemStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

var _ BlobStore = (*MemStore)(nil)
