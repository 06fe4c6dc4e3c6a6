// Package pebblestore keeps the document tree in an embedded Pebble database,
// for single-node deployments and local development. Each leaf is one key,
// "n:" followed by its path, so a subtree is a contiguous key range.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/sirupsen/logrus"
)

const nodePrefix = "n:"

var ErrOverlappingPaths = errors.New("pebblestore: batch paths overlap")

type Option func(*Store)

// WithFS swaps the filesystem, typically for vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(s *Store) { s.opts.FS = fs }
}

func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	db         *pebble.DB
	opts       *pebble.Options
	maxRetries int
	now        func() time.Time

	// commitMu serializes commits so Transact can verify its read before writing.
	commitMu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		opts:       &pebble.Options{},
		maxRetries: store.DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger.Log.WithField("path", path).Info("opening pebble store")
	db, err := pebble.Open(path, s.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	s.db = db
	return s, nil
}

func nodeKey(p string) []byte {
	return []byte(nodePrefix + p)
}

// subtreeBounds covers every key strictly below p. '0' sorts right after '/'.
func subtreeBounds(p string) (lower, upper []byte) {
	if p == "" {
		return []byte(nodePrefix), []byte("n;")
	}
	return []byte(nodePrefix + p + "/"), []byte(nodePrefix + p + "0")
}

func (s *Store) readLeaf(p string) ([]byte, bool, error) {
	value, closer, err := s.db.Get(nodeKey(p))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), true, nil
}

func (s *Store) hasDescendants(p string) (bool, error) {
	lower, upper := subtreeBounds(p)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return false, err
	}
	defer iter.Close()
	return iter.First(), nil
}

func (s *Store) Get(_ context.Context, path string) (any, error) {
	p := permalink.Format(path)

	raw, ok, err := s.readLeaf(p)
	if err != nil {
		return nil, err
	}
	if ok {
		return decode(raw)
	}

	lower, upper := subtreeBounds(p)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	leaves := map[string]any{}
	for iter.First(); iter.Valid(); iter.Next() {
		rel := strings.TrimPrefix(string(iter.Key()), string(lower))
		v, err := decode(iter.Value())
		if err != nil {
			return nil, err
		}
		leaves[rel] = v
	}
	return store.Expand(leaves), nil
}

func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	p := permalink.Format(path)
	if _, ok, err := s.readLeaf(p); ok || err != nil {
		return ok, err
	}
	return s.hasDescendants(p)
}

func (s *Store) WriteBatch(_ context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	paths := make([]string, 0, len(updates))
	values := make(map[string]any, len(updates))
	for raw, v := range updates {
		p := permalink.Format(raw)
		if p == "" {
			return fmt.Errorf("pebblestore: cannot replace the root")
		}
		paths = append(paths, p)
		values[p] = v
	}
	sort.Strings(paths)
	for i := 1; i < len(paths); i++ {
		if paths[i] == paths[i-1] || strings.HasPrefix(paths[i], paths[i-1]+"/") {
			return fmt.Errorf("%w: %s and %s", ErrOverlappingPaths, paths[i-1], paths[i])
		}
	}

	now := s.now().UnixMilli()
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, p := range paths {
		leaves := map[string]any{}
		if err := store.Flatten(p, values[p], now, leaves); err != nil {
			return err
		}
		if err := s.replace(batch, p, leaves); err != nil {
			return err
		}
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return batch.Commit(pebble.Sync)
}

// replace queues the removal of the subtree at p followed by its new leaves.
func (s *Store) replace(batch *pebble.Batch, p string, leaves map[string]any) error {
	lower, upper := subtreeBounds(p)
	if err := batch.Delete(nodeKey(p), nil); err != nil {
		return err
	}
	if err := batch.DeleteRange(lower, upper, nil); err != nil {
		return err
	}
	if len(leaves) == 0 {
		return nil
	}

	segments := permalink.Split(p)
	for i := 1; i < len(segments); i++ {
		if err := batch.Delete(nodeKey(strings.Join(segments[:i], "/")), nil); err != nil {
			return err
		}
	}
	for leaf, v := range leaves {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := batch.Set(nodeKey(leaf), raw, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Transact(_ context.Context, path string, fn store.TransactFunc) (any, error) {
	p := permalink.Format(path)
	if p == "" {
		return nil, store.ErrNotLeaf
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if nested, err := s.hasDescendants(p); err != nil || nested {
			if err != nil {
				return nil, err
			}
			return nil, store.ErrNotLeaf
		}

		before, ok, err := s.readLeaf(p)
		if err != nil {
			return nil, err
		}
		var current any
		if ok {
			if current, err = decode(before); err != nil {
				return nil, err
			}
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		leaves := map[string]any{}
		if err := store.Flatten(p, next, s.now().UnixMilli(), leaves); err != nil {
			return nil, err
		}
		value, isLeaf := leaves[p]
		if len(leaves) > 1 || (len(leaves) == 1 && !isLeaf) {
			return nil, store.ErrNotLeaf
		}

		committed, err := s.commitIfUnchanged(p, before, ok, leaves)
		if err != nil {
			return nil, err
		}
		if committed {
			return value, nil
		}
		logger.Log.WithFields(logrus.Fields{"path": p, "attempt": attempt + 1}).Debug("transaction conflict, retrying")
	}
	return nil, store.ErrRetriesExhausted
}

func (s *Store) commitIfUnchanged(p string, before []byte, existed bool, leaves map[string]any) (bool, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	now, ok, err := s.readLeaf(p)
	if err != nil {
		return false, err
	}
	if ok != existed || !bytes.Equal(now, before) {
		return false, nil
	}
	if nested, err := s.hasDescendants(p); err != nil || nested {
		return false, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := s.replace(batch, p, leaves); err != nil {
		return false, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) NewID(_ context.Context, _ string) (string, error) {
	return store.GenerateID()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Log.Info("pebble store closed")
	return nil
}

func decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("pebblestore: corrupt leaf: %w", err)
	}
	return v, nil
}
