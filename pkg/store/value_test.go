package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	type payload struct {
		Content string `json:"content"`
		Rating  int    `json:"rating"`
	}

	out := map[string]any{}
	err := Flatten("/reviews//r1/", map[string]any{
		"payload":   payload{Content: "ok", Rating: 4},
		"timestamp": ServerTimestamp,
		"empty":     map[string]any{},
		"gone":      nil,
	}, 42, out)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"reviews/r1/payload/content": "ok",
		"reviews/r1/payload/rating":  float64(4),
		"reviews/r1/timestamp":       float64(42),
	}, out)
}

func TestFlattenRejectsUnknownSentinel(t *testing.T) {
	require.Error(t, Flatten("a", Sentinel("increment"), 0, map[string]any{}))
}

func TestExpand(t *testing.T) {
	require.Nil(t, Expand(nil))
	require.Equal(t, "x", Expand(map[string]any{"": "x"}))
	require.Equal(t, map[string]any{
		"a": map[string]any{"b": 1, "c": 2},
		"d": 3,
	}, Expand(map[string]any{"a/b": 1, "a/c": 2, "d": 3}))
}

func TestAccessors(t *testing.T) {
	v := map[string]any{"n": float64(3), "s": "x", "m": map[string]any{"k": true}}
	require.Equal(t, int64(3), Int(Field(v, "n")))
	require.Equal(t, int64(0), Int(Field(v, "missing")))
	require.Equal(t, "x", String(Field(v, "s")))
	require.Equal(t, "", String(Field(nil, "s")))
	require.Equal(t, map[string]any{"k": true}, Map(Field(v, "m")))
	require.Empty(t, Map(nil))
	require.Equal(t, []string{"m", "n", "s"}, SortedKeys(v))

	var out struct {
		N int `json:"n"`
	}
	require.NoError(t, Decode(v, &out))
	require.Equal(t, 3, out.N)
}

func TestCloneIsShallowCopy(t *testing.T) {
	src := map[string]any{"rating": float64(3), "sender": "alice"}
	out := Clone(src)
	out["rating"] = float64(5)
	require.Equal(t, float64(3), src["rating"])
	require.Equal(t, "alice", out["sender"])

	require.Empty(t, Clone(nil))
	require.Empty(t, Clone("leaf"))
}

func TestNullIfEmpty(t *testing.T) {
	require.Nil(t, NullIfEmpty(""))
	require.Equal(t, "x", NullIfEmpty("x"))
	require.Equal(t, float64(0), NullIfEmpty(float64(0)))
}

func TestFieldsChanged(t *testing.T) {
	before := map[string]any{"content": "a", "rating": float64(3), "timestamp": float64(1)}
	after := map[string]any{"content": "a", "rating": float64(3), "timestamp": float64(2)}

	require.False(t, FieldsChanged(before, after, "content", "rating"))
	require.True(t, FieldsChanged(before, after, "content", "timestamp"))

	delete(after, "content")
	require.True(t, FieldsChanged(before, after, "content"))
	require.False(t, FieldsChanged(nil, nil, "content"))
}
