package dto

type CreateReviewRequest struct {
	// Type is the reviewed namespace (books, users...) or its review type (bookReviews).
	Type    string   `json:"type" binding:"required,alpha,max=30"`
	Target  string   `json:"target" binding:"required,max=100"`
	Content string   `json:"content" binding:"required,max=10000"`
	Title   string   `json:"title" binding:"max=200"`
	Image   string   `json:"image" binding:"omitempty,url"`
	Video   string   `json:"video" binding:"omitempty,url"`
	Banner  string   `json:"banner" binding:"omitempty,url"`
	Rating  *float64 `json:"rating" binding:"required,min=0,max=5"`
}

type EditReviewRequest struct {
	Content string   `json:"content" binding:"required,max=10000"`
	Title   string   `json:"title" binding:"max=200"`
	Image   string   `json:"image" binding:"omitempty,url"`
	Video   string   `json:"video" binding:"omitempty,url"`
	Banner  string   `json:"banner" binding:"omitempty,url"`
	Rating  *float64 `json:"rating" binding:"required,min=0,max=5"`
}

type ReviewResponse struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
}
