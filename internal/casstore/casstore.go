// Package casstore models the content-addressed store used by the
// ContentAddressed RecorderSink variant and the index snapshotter: put a
// blob, get it back by address, and publish a stable name for the latest
// address.
package casstore

import (
	"context"
	"io"
)

// PutResult carries the content address assigned to a stored blob.
type PutResult struct {
	Hash string
}

// Store is the content-addressed store interface a sink or snapshotter
// needs: put a named reader and get back a content address, fetch by
// address, and publish a stable name pointing at an address.
type Store interface {
	// Put uploads the bytes from r, named name for diagnostics, and
	// returns the resulting content address.
	Put(ctx context.Context, name string, r io.Reader) (PutResult, error)

	// Get retrieves the blob stored at address.
	Get(ctx context.Context, address string) (io.ReadCloser, error)

	// PublishName publishes address under this store's stable name record
	// (e.g. an IPNS name), so later readers can resolve the latest value
	// without knowing the address in advance.
	PublishName(ctx context.Context, address string) error
}
