package permalink

import "strings"

var (
	keyEscaper = strings.NewReplacer(
		".", "%2E",
		"$", "%24",
		"[", "%5B",
		"]", "%5D",
		"#", "%23",
		"/", "%2F",
	)
	keyUnescaper = strings.NewReplacer(
		"%2E", ".",
		"%24", "$",
		"%5B", "[",
		"%5D", "]",
		"%23", "#",
		"%2F", "/",
	)
)

// EscapeKey makes a username or topic name safe to use as a single path segment.
func EscapeKey(s string) string {
	return keyEscaper.Replace(s)
}

// UnescapeKey reverses EscapeKey.
func UnescapeKey(s string) string {
	return keyUnescaper.Replace(s)
}

const reviewsSuffix = "Reviews"

// ProfileNamespace converts a review namespace to the namespace holding the
// reviewed entity: bookReviews -> books, userReviews -> users, amazonReviews -> amazon.
func ProfileNamespace(reviewType string) string {
	if !strings.Contains(reviewType, reviewsSuffix) {
		return reviewType
	}
	ns := strings.Replace(reviewType, reviewsSuffix, "", 1) + "s"
	if ns == "amazons" {
		ns = "amazon"
	}
	return ns
}

// ReviewType is the inverse of ProfileNamespace: books -> bookReviews.
func ReviewType(namespace string) string {
	if strings.Contains(namespace, reviewsSuffix) {
		return namespace
	}
	return strings.TrimSuffix(namespace, "s") + reviewsSuffix
}

// reservedRoots hold system records and never name a topic.
var reservedRoots = map[string]bool{
	"notifications":   true,
	"usernames":       true,
	"userAliases":     true,
	"following":       true,
	"followers":       true,
	"reviewsSent":     true,
	"repliesSent":     true,
	"repliesReceived": true,
}

// IsTopicNamespace reports whether ns may hold followed or reviewed entities:
// users, or a short ASCII-letter name that is neither a system root nor a
// review type.
func IsTopicNamespace(ns string) bool {
	if ns == "users" {
		return true
	}
	if ns == "" || len(ns) > 30 || reservedRoots[ns] || strings.Contains(ns, reviewsSuffix) {
		return false
	}
	for _, r := range ns {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// IsReviewType reports whether t names the review collection of a topic
// namespace, e.g. bookReviews or userReviews.
func IsReviewType(t string) bool {
	return len(t) > len(reviewsSuffix) &&
		strings.HasSuffix(t, reviewsSuffix) &&
		IsTopicNamespace(ProfileNamespace(t))
}

// IsUserReviewType reports whether reviews of this namespace are addressed to users.
func IsUserReviewType(reviewType string) bool {
	return ProfileNamespace(reviewType) == "users"
}
