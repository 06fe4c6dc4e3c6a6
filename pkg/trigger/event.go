package trigger

import (
	"context"
	"fmt"
	"strings"

	"anoa.com/reviewfeed/pkg/permalink"
)

// ChangeType classifies a write against the node a trigger watches.
type ChangeType string

const (
	Created ChangeType = "created"
	Updated ChangeType = "updated"
	Deleted ChangeType = "deleted"
)

// Kind selects which changes a trigger fires on.
type Kind string

const (
	OnCreate Kind = "create"
	OnUpdate Kind = "update"
	OnDelete Kind = "delete"
	OnWrite  Kind = "write"
)

func (k Kind) accepts(c ChangeType) bool {
	switch k {
	case OnCreate:
		return c == Created
	case OnUpdate:
		return c == Updated
	case OnDelete:
		return c == Deleted
	case OnWrite:
		return c != ""
	}
	return false
}

// Event is what a handler receives: the node's value before and after the
// write and the wildcard values captured from its path.
type Event struct {
	ID        string            `json:"id"`
	Trigger   string            `json:"trigger"`
	Type      ChangeType        `json:"type"`
	Path      string            `json:"path"`
	Params    map[string]string `json:"params"`
	Before    any               `json:"before"`
	After     any               `json:"after"`
	Timestamp int64             `json:"timestamp"`
}

func (e Event) Param(name string) string {
	return e.Params[name]
}

// HandlerFunc reacts to one event. A returned error is retried by the runtime.
type HandlerFunc func(ctx context.Context, e Event) error

// Pattern is a path template such as following/{follower}/{followee}.
type Pattern struct {
	raw      string
	segments []string
}

func ParsePattern(raw string) (Pattern, error) {
	segments := permalink.Split(raw)
	if len(segments) == 0 {
		return Pattern{}, fmt.Errorf("trigger: empty pattern")
	}
	seen := map[string]bool{}
	for _, s := range segments {
		name, ok := wildcard(s)
		if !ok {
			if strings.ContainsAny(s, "{}") {
				return Pattern{}, fmt.Errorf("trigger: malformed segment %q in %q", s, raw)
			}
			continue
		}
		if name == "" || seen[name] {
			return Pattern{}, fmt.Errorf("trigger: bad wildcard %q in %q", s, raw)
		}
		seen[name] = true
	}
	return Pattern{raw: permalink.Format(raw), segments: segments}, nil
}

func (p Pattern) String() string { return p.raw }

// Depth is the number of segments a matching path has.
func (p Pattern) Depth() int { return len(p.segments) }

// Match reports whether path has exactly the pattern's shape and returns the
// captured wildcards.
func (p Pattern) Match(path string) (map[string]string, bool) {
	return p.matchSegments(permalink.Split(path))
}

func (p Pattern) matchSegments(segments []string) (map[string]string, bool) {
	if len(segments) != len(p.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, want := range p.segments {
		if name, ok := wildcard(want); ok {
			params[name] = segments[i]
			continue
		}
		if want != segments[i] {
			return nil, false
		}
	}
	return params, true
}

// prefixMatches reports whether a path with the given leading segments could
// contain nodes matching p.
func (p Pattern) prefixMatches(segments []string) bool {
	if len(segments) > len(p.segments) {
		return false
	}
	for i, s := range segments {
		if _, ok := wildcard(p.segments[i]); !ok && p.segments[i] != s {
			return false
		}
	}
	return true
}

func wildcard(segment string) (string, bool) {
	if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
		return segment[1 : len(segment)-1], true
	}
	return "", false
}
