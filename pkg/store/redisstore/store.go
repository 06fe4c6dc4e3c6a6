// Package redisstore keeps the document tree in Redis. Every leaf lives in its
// own string key holding the JSON-encoded scalar, and every interior node keeps
// a set with the names of its children, so subtrees can be rebuilt and removed
// without scanning the keyspace.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "reviewfeed:"

var ErrOverlappingPaths = errors.New("redisstore: batch paths overlap")

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
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
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		prefix:     DefaultPrefix,
		maxRetries: store.DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) docKey(p string) string  { return s.prefix + "doc:" + p }
func (s *Store) kidsKey(p string) string { return s.prefix + "kids:" + p }

func (s *Store) Get(ctx context.Context, path string) (any, error) {
	return s.get(ctx, permalink.Format(path))
}

func (s *Store) get(ctx context.Context, p string) (any, error) {
	raw, err := s.client.Get(ctx, s.docKey(p)).Result()
	if err == nil {
		return decode(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	kids, err := s.client.SMembers(ctx, s.kidsKey(p)).Result()
	if err != nil {
		return nil, err
	}
	if len(kids) == 0 {
		return nil, nil
	}

	node := make(map[string]any, len(kids))
	for _, kid := range kids {
		v, err := s.get(ctx, permalink.Join(p, kid))
		if err != nil {
			return nil, err
		}
		if v != nil {
			node[kid] = v
		}
	}
	if len(node) == 0 {
		return nil, nil
	}
	return node, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	v, err := s.Get(ctx, path)
	return v != nil, err
}

func (s *Store) WriteBatch(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	paths := make([]string, 0, len(updates))
	values := make(map[string]any, len(updates))
	for raw, v := range updates {
		p := permalink.Format(raw)
		if p == "" {
			return fmt.Errorf("redisstore: cannot replace the root")
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
	type write struct {
		path   string
		stale  []string
		leaves map[string]any
	}
	writes := make([]write, 0, len(paths))
	for _, p := range paths {
		leaves := map[string]any{}
		if err := store.Flatten(p, values[p], now, leaves); err != nil {
			return err
		}
		var stale []string
		if err := s.subtreeKeys(ctx, p, &stale); err != nil {
			return err
		}
		writes = append(writes, write{path: p, stale: stale, leaves: leaves})
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if len(w.stale) > 0 {
				pipe.Del(ctx, w.stale...)
			}
			if len(w.leaves) == 0 {
				parent, name := splitLast(w.path)
				pipe.SRem(ctx, s.kidsKey(parent), name)
				continue
			}
			for leaf, v := range w.leaves {
				if err := s.queueSet(ctx, pipe, leaf, v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return err
}

// subtreeKeys collects the leaf and child-set keys of p and all its descendants.
func (s *Store) subtreeKeys(ctx context.Context, p string, out *[]string) error {
	*out = append(*out, s.docKey(p), s.kidsKey(p))
	kids, err := s.client.SMembers(ctx, s.kidsKey(p)).Result()
	if err != nil {
		return err
	}
	for _, kid := range kids {
		if err := s.subtreeKeys(ctx, permalink.Join(p, kid), out); err != nil {
			return err
		}
	}
	return nil
}

// queueSet writes a leaf and links it into every ancestor's child set. An
// ancestor that used to be a leaf stops being one.
func (s *Store) queueSet(ctx context.Context, pipe redis.Pipeliner, leaf string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.docKey(leaf), raw, 0)

	segments := permalink.Split(leaf)
	for i := range segments {
		parent := strings.Join(segments[:i], "/")
		if parent != "" {
			pipe.Del(ctx, s.docKey(parent))
		}
		pipe.SAdd(ctx, s.kidsKey(parent), segments[i])
	}
	return nil
}

func (s *Store) Transact(ctx context.Context, path string, fn store.TransactFunc) (any, error) {
	p := permalink.Format(path)
	if p == "" {
		return nil, store.ErrNotLeaf
	}
	key := s.docKey(p)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var committed any
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, s.kidsKey(p)).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return store.ErrNotLeaf
			}

			var current any
			raw, err := tx.Get(ctx, key).Result()
			switch {
			case err == nil:
				if current, err = decode(raw); err != nil {
					return err
				}
			case !errors.Is(err, redis.Nil):
				return err
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			leaves := map[string]any{}
			if err := store.Flatten(p, next, s.now().UnixMilli(), leaves); err != nil {
				return err
			}
			value, isLeaf := leaves[p]
			if len(leaves) > 1 || (len(leaves) == 1 && !isLeaf) {
				return store.ErrNotLeaf
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(leaves) == 0 {
					parent, name := splitLast(p)
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.kidsKey(parent), name)
					return nil
				}
				return s.queueSet(ctx, pipe, p, value)
			})
			committed = value
			return err
		}, key, s.kidsKey(p))

		if err == nil {
			return committed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, store.ErrRetriesExhausted
}

func (s *Store) NewID(_ context.Context, _ string) (string, error) {
	return store.GenerateID()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decode(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("redisstore: corrupt leaf: %w", err)
	}
	return v, nil
}

func splitLast(p string) (parent, name string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}
