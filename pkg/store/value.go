package store

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"anoa.com/reviewfeed/pkg/permalink"
	"github.com/google/uuid"
)

// Sentinel values are placeholders resolved by the store at write time.
type Sentinel string

// ServerTimestamp resolves to the write time in Unix milliseconds.
const ServerTimestamp Sentinel = "timestamp"

func isServerTimestamp(v any) bool {
	switch t := v.(type) {
	case Sentinel:
		return t == ServerTimestamp
	case map[string]any:
		return len(t) == 1 && t[".sv"] == "timestamp"
	}
	return false
}

// GenerateID returns a UUIDv7, which sorts by creation time.
func GenerateID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Flatten resolves sentinels in v and writes one entry per leaf into out,
// keyed by the leaf's full path under base. Empty maps produce no leaves.
func Flatten(base string, v any, nowMillis int64, out map[string]any) error {
	base = permalink.Format(base)
	if isServerTimestamp(v) {
		out[base] = float64(nowMillis)
		return nil
	}

	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range t {
			if err := Flatten(permalink.Join(base, k), child, nowMillis, out); err != nil {
				return err
			}
		}
		return nil
	case bool, string:
		out[base] = t
		return nil
	case Sentinel:
		return fmt.Errorf("store: unknown sentinel %q", string(t))
	}

	if f, ok := Float(v); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("store: non-finite number at %s", base)
		}
		out[base] = f
		return nil
	}

	// structs, typed maps and slices go through their JSON form
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", base, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	if list, ok := generic.([]any); ok {
		m := make(map[string]any, len(list))
		for i, item := range list {
			m[strconv.Itoa(i)] = item
		}
		generic = m
	}
	return Flatten(base, generic, nowMillis, out)
}

// Expand rebuilds a tree from leaves keyed by paths relative to the tree root.
func Expand(leaves map[string]any) any {
	if len(leaves) == 0 {
		return nil
	}
	if v, ok := leaves[""]; ok {
		return v
	}
	root := map[string]any{}
	for p, v := range leaves {
		segments := permalink.Split(p)
		node := root
		for i, s := range segments {
			if i == len(segments)-1 {
				node[s] = v
				break
			}
			next, ok := node[s].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[s] = next
			}
			node = next
		}
	}
	return root
}

// Float extracts a number from a decoded store value.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Int extracts a count, treating anything non-numeric as zero.
func Int(v any) int64 {
	f, _ := Float(v)
	return int64(f)
}

// String extracts a string, treating anything else as empty.
func String(v any) string {
	s, _ := v.(string)
	return s
}

// Map extracts a subtree, treating anything else as empty.
func Map(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Field reads a direct child of a subtree value.
func Field(v any, key string) any {
	m, _ := v.(map[string]any)
	return m[key]
}

// SortedKeys returns the keys of a subtree in lexicographic order, which is the
// order the store enumerates children in.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode converts a store value into a typed snapshot.
func Decode(v any, out any) error {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Clone returns a shallow copy of a subtree value.
func Clone(v any) map[string]any {
	src, _ := v.(map[string]any)
	out := make(map[string]any, len(src))
	for k, val := range src {
		out[k] = val
	}
	return out
}

// NullIfEmpty maps an empty string to nil so the leaf is removed on write.
func NullIfEmpty(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}

// FieldsChanged reports whether any of the named children differ.
func FieldsChanged(before, after map[string]any, fields ...string) bool {
	for _, f := range fields {
		if !reflect.DeepEqual(before[f], after[f]) {
			return true
		}
	}
	return false
}
