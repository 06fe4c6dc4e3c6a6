// Package store defines the hierarchical document store the propagation engine
// runs on. Documents are JSON-like trees addressed by slash-delimited paths;
// every non-map value is a leaf.
//
// A Store handle is constructed once at process start and shared by every
// component. It is safe for concurrent use.
package store

import (
	"context"
	"errors"
)

// DefaultMaxRetries bounds Transact's compare-and-swap loop.
const DefaultMaxRetries = 25

var (
	ErrRetriesExhausted = errors.New("store: transaction retries exhausted")
	ErrNotLeaf          = errors.New("store: transaction target is not a leaf")
)

// TransactFunc maps the current leaf value (nil when absent) to the value to
// commit. Returning an error aborts the transaction and leaves the leaf
// unchanged. It may be called several times and must not have side effects.
type TransactFunc func(current any) (any, error)

// Store is the collaborator every handler reads and writes through.
type Store interface {
	// Get returns the subtree at path as scalars and map[string]any, or nil.
	Get(ctx context.Context, path string) (any, error)
	Exists(ctx context.Context, path string) (bool, error)
	// WriteBatch replaces the subtree at each path with its value; nil deletes.
	// Each path is written atomically; the batch as a whole is not a transaction
	// against concurrent readers.
	WriteBatch(ctx context.Context, updates map[string]any) error
	// Transact applies fn to a single leaf with compare-and-swap semantics,
	// retrying on concurrent modification. It returns the committed value.
	Transact(ctx context.Context, path string, fn TransactFunc) (any, error)
	// NewID returns a time-ordered id for a new child of parent.
	NewID(ctx context.Context, parent string) (string, error)
	Close() error
}
