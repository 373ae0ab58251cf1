package casstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/markb/warcrecorder/internal/digest"
)

// MemoryStore is an in-memory Store used by tests in place of a live IPFS
// daemon. Addresses are content digests of the stored bytes, same spirit as
// an IPFS hash without the actual DAG machinery.
type MemoryStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	published string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, _ string, r io.Reader) (PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, err
	}
	hash := digest.Sum(data)
	s.mu.Lock()
	s.blobs[hash] = data
	s.mu.Unlock()
	return PutResult{Hash: hash}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, address string) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.blobs[address]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("casstore: no blob at %s", address)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// PublishName implements Store, recording the most recently published
// address so tests can assert on it.
func (s *MemoryStore) PublishName(_ context.Context, address string) error {
	s.mu.Lock()
	s.published = address
	s.mu.Unlock()
	return nil
}

// Published returns the last address passed to PublishName.
func (s *MemoryStore) Published() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}
