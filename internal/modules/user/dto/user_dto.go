package dto

// Profile is the subset of a user or topic document the propagation handlers
// read. Missing counters decode as zero and a missing average as nil.
type Profile struct {
	UID           string   `json:"uid,omitempty"`
	Username      string   `json:"username,omitempty"`
	EthAddress    string   `json:"ethAddress,omitempty"`
	ReviewCount   int64    `json:"reviewCount"`
	FollowerCount int64    `json:"followerCount"`
	AverageRating *float64 `json:"averageRating,omitempty"`
}

type InitializeUserRequest struct {
	Email string `json:"email" binding:"omitempty,email"`
	Name  string `json:"name" binding:"max=100"`
	Image string `json:"image" binding:"omitempty,url"`
}

type ClaimUsernameRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
}

type ClaimUsernameResponse struct {
	Username string `json:"username"`
}
