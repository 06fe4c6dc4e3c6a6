// Package permalink parses and formats the slash-delimited paths that address
// reviews and (arbitrarily nested) replies in the document store.
package permalink

import (
	"regexp"
	"strings"
)

// Kind tells whether an address points at a review or at a reply.
type Kind string

const (
	KindReview Kind = "review"
	KindReply  Kind = "reply"
)

// RepliesMarker is the literal segment that precedes every reply id.
const RepliesMarker = "replies"

var (
	repeatedSlashes = regexp.MustCompile(`/+`)
	lastReply       = regexp.MustCompile(`/replies/[^/]+$`)
)

// Address is the parsed form of a permalink.
//
//	bookReviews/dune/-r1/replies/-a/replies/-b
//	Type=bookReviews Username=dune ReviewUID=-r1 ReplyUIDs=[-a -b] CurrentReplyUID=-b
type Address struct {
	Type            string   `json:"type"`
	Username        string   `json:"username"`
	ReviewUID       string   `json:"reviewUid"`
	ReplyUIDs       []string `json:"replyUids"`
	CurrentReplyUID string   `json:"currentReplyUid"`
	PermalinkType   Kind     `json:"permalinkType"`
}

// Build returns the address of a review, or of a reply when replyUIDs are given
// (outermost first).
func Build(reviewType, username, reviewUID string, replyUIDs ...string) Address {
	a := Address{
		Type:      reviewType,
		Username:  username,
		ReviewUID: reviewUID,
		ReplyUIDs: append([]string{}, replyUIDs...),
	}
	a.settle()
	return a
}

// Parse splits a permalink into its components. Empty segments are ignored and
// every literal "replies" marker is dropped, keeping reply ids in nesting order.
func Parse(path string) Address {
	segments := Split(path)
	a := Address{ReplyUIDs: []string{}}

	shift := func() string {
		if len(segments) == 0 {
			return ""
		}
		s := segments[0]
		segments = segments[1:]
		return s
	}

	a.Type = shift()
	a.Username = shift()
	a.ReviewUID = shift()

	for _, s := range segments {
		if s != RepliesMarker {
			a.ReplyUIDs = append(a.ReplyUIDs, s)
		}
	}

	a.settle()
	return a
}

func (a *Address) settle() {
	a.CurrentReplyUID = ""
	a.PermalinkType = KindReview
	if n := len(a.ReplyUIDs); n > 0 {
		a.CurrentReplyUID = a.ReplyUIDs[n-1]
		a.PermalinkType = KindReply
	}
}

// IsReply reports whether the address points at a reply.
func (a Address) IsReply() bool {
	return len(a.ReplyUIDs) > 0
}

// Review returns the address of the review at the root of the reply chain.
func (a Address) Review() Address {
	return Build(a.Type, a.Username, a.ReviewUID)
}

// Parent walks one level up the reply tree. A review has no parent.
func (a Address) Parent() (Address, bool) {
	if !a.IsReply() {
		return Address{}, false
	}
	return Build(a.Type, a.Username, a.ReviewUID, a.ReplyUIDs[:len(a.ReplyUIDs)-1]...), true
}

// Addressable reports whether a names a review, or a reply below one, inside a
// review collection rather than some other part of the store.
func (a Address) Addressable() bool {
	return IsReviewType(a.Type) && a.Username != "" && a.ReviewUID != ""
}

// Child returns the address of a reply to a.
func (a Address) Child(replyUID string) Address {
	return Build(a.Type, a.Username, a.ReviewUID, append(append([]string{}, a.ReplyUIDs...), replyUID)...)
}

// String renders the canonical permalink.
func (a Address) String() string {
	segments := []string{a.Type, a.Username, a.ReviewUID}
	for _, id := range a.ReplyUIDs {
		segments = append(segments, RepliesMarker, id)
	}
	return Join(segments...)
}

// RemoveLastReply strips a trailing /replies/{id} segment, yielding the path of
// the node that was replied to. Code holding a parsed Address uses Parent.
func RemoveLastReply(path string) string {
	path = strings.TrimRight(path, "/")
	return lastReply.ReplaceAllString(path, "")
}

// IsSafe requires at least two separators once the path is normalized, i.e.
// enough segments to address a review or something below it.
func IsSafe(path string) bool {
	return strings.Count(Format(path), "/") >= 2
}

// Format collapses repeated slashes and strips a leading and trailing slash.
// It is idempotent and must be applied before a path is used as a storage key.
func Format(path string) string {
	path = repeatedSlashes.ReplaceAllString(path, "/")
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	return path
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Join concatenates segments and normalizes the result.
func Join(segments ...string) string {
	return Format(strings.Join(segments, "/"))
}
