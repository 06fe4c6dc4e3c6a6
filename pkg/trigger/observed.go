package trigger

import (
	"context"
	"reflect"
	"sort"
	"strings"

	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
	"github.com/sirupsen/logrus"
)

// observedStore fires triggers for writes that pass through it.
type observedStore struct {
	store.Store
	rt *Runtime
}

func (o *observedStore) WriteBatch(ctx context.Context, updates map[string]any) error {
	paths := make([]string, 0, len(updates))
	for p := range updates {
		paths = append(paths, p)
	}
	return o.rt.observe(ctx, paths, func() error {
		return o.Store.WriteBatch(ctx, updates)
	})
}

func (o *observedStore) Transact(ctx context.Context, path string, fn store.TransactFunc) (any, error) {
	var committed any
	err := o.rt.observe(ctx, []string{path}, func() error {
		v, err := o.Store.Transact(ctx, path, fn)
		committed = v
		return err
	})
	return committed, err
}

func (r *Runtime) observe(ctx context.Context, paths []string, write func() error) error {
	r.mu.RLock()
	triggers := append([]*registration(nil), r.triggers...)
	r.mu.RUnlock()

	// nodes are watched paths the write lands on or below; ancestors are
	// shallower write paths whose subtree may hold watched nodes.
	nodes := map[string]bool{}
	ancestors := map[string]bool{}
	for _, p := range paths {
		segments := permalink.Split(p)
		if len(segments) == 0 {
			continue
		}
		for _, t := range triggers {
			d := t.pattern.Depth()
			if len(segments) >= d {
				if _, ok := t.pattern.matchSegments(segments[:d]); ok {
					nodes[strings.Join(segments[:d], "/")] = true
				}
			} else if t.pattern.prefixMatches(segments) {
				ancestors[strings.Join(segments, "/")] = true
			}
		}
	}
	if len(nodes) == 0 && len(ancestors) == 0 {
		return write()
	}

	before := map[string]any{}
	for n := range nodes {
		v, err := r.raw.Get(ctx, n)
		if err != nil {
			return err
		}
		before[n] = v
	}
	beforeTrees := map[string]any{}
	for a := range ancestors {
		v, err := r.raw.Get(ctx, a)
		if err != nil {
			return err
		}
		beforeTrees[a] = v
	}

	if err := write(); err != nil {
		return err
	}

	after := map[string]any{}
	for n := range nodes {
		v, err := r.raw.Get(ctx, n)
		if err != nil {
			return err
		}
		after[n] = v
	}
	for a := range ancestors {
		afterTree, err := r.raw.Get(ctx, a)
		if err != nil {
			return err
		}
		prefix := permalink.Split(a)
		for _, t := range triggers {
			if t.pattern.Depth() <= len(prefix) || !t.pattern.prefixMatches(prefix) {
				continue
			}
			rels := map[string]bool{}
			depth := t.pattern.Depth() - len(prefix)
			collectAtDepth(beforeTrees[a], depth, nil, rels)
			collectAtDepth(afterTree, depth, nil, rels)
			for rel := range rels {
				full := permalink.Join(a, rel)
				nodes[full] = true
				before[full] = descend(beforeTrees[a], rel)
				after[full] = descend(afterTree, rel)
			}
		}
	}

	ordered := make([]string, 0, len(nodes))
	for n := range nodes {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	now := r.now().UnixMilli()
	for _, n := range ordered {
		change := classify(before[n], after[n])
		if change == "" {
			continue
		}
		for _, t := range triggers {
			params, ok := t.pattern.Match(n)
			if !ok || !t.kind.accepts(change) {
				continue
			}
			e := Event{
				ID:        newEventID(),
				Trigger:   t.name,
				Type:      change,
				Path:      n,
				Params:    params,
				Before:    before[n],
				After:     after[n],
				Timestamp: now,
			}
			// the write already committed; a lost event is logged, not returned
			if err := r.publish(e); err != nil {
				r.log.WithFields(logrus.Fields{"trigger": t.name, "path": n}).WithError(err).Error("failed to publish trigger event")
			}
		}
	}
	return nil
}

func classify(before, after any) ChangeType {
	switch {
	case before == nil && after != nil:
		return Created
	case before != nil && after == nil:
		return Deleted
	case before != nil && !reflect.DeepEqual(before, after):
		return Updated
	}
	return ""
}

func collectAtDepth(tree any, depth int, prefix []string, out map[string]bool) {
	if tree == nil {
		return
	}
	if depth == 0 {
		out[strings.Join(prefix, "/")] = true
		return
	}
	m, ok := tree.(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		next := append(append([]string(nil), prefix...), k)
		collectAtDepth(v, depth-1, next, out)
	}
}

func descend(tree any, rel string) any {
	for _, s := range permalink.Split(rel) {
		m, ok := tree.(map[string]any)
		if !ok {
			return nil
		}
		tree = m[s]
	}
	return tree
}
