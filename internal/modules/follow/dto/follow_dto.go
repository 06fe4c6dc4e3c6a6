package dto

// Edge is the value stored at following/{follower}/{followee}.
type Edge struct {
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Username  string `json:"username"`
}

type FollowRequest struct {
	// Type is the namespace of the followed entity: users, books, movies...
	Type string `json:"type" binding:"omitempty,alpha,max=30"`
}
