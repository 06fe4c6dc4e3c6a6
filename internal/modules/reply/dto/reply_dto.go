package dto

type CreateReplyRequest struct {
	// Permalink addresses the review or reply being replied to.
	Permalink string   `json:"permalink" binding:"required,max=500"`
	Content   string   `json:"content" binding:"required,max=5000"`
	Image     string   `json:"image" binding:"omitempty,url"`
	Video     string   `json:"video" binding:"omitempty,url"`
	Rating    *float64 `json:"rating" binding:"required,min=-1,max=1"`
}

type EditReplyRequest struct {
	Content string   `json:"content" binding:"required,max=5000"`
	Image   string   `json:"image" binding:"omitempty,url"`
	Video   string   `json:"video" binding:"omitempty,url"`
	Rating  *float64 `json:"rating" binding:"required,min=-1,max=1"`
}

type ReplyResponse struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
}
