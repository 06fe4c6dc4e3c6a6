package dto

// Notification is the record stored at notifications/{recipient}/{eventID}.
type Notification struct {
	ID         string  `json:"id,omitempty"`
	Content    string  `json:"content"`
	From       string  `json:"from"`
	Permalink  string  `json:"permalink"`
	Rating     float64 `json:"rating"`
	Read       bool    `json:"read"`
	ReplyCount int64   `json:"replyCount"`
	Synced     bool    `json:"synced"`
	Timestamp  int64   `json:"timestamp"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Title      *string `json:"title,omitempty"`
}

// Source carries the fields a notification is projected from.
type Source struct {
	Content    string
	Sender     string
	Permalink  string
	Rating     float64
	ReplyCount int64
	Synced     bool
	Timestamp  any
	Recipient  string
	Title      *string
}
