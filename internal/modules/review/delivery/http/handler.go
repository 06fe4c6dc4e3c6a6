package handler

import (
	"net/http"

	"anoa.com/reviewfeed/internal/modules/review/dto"
	review "anoa.com/reviewfeed/internal/modules/review/service"
	"anoa.com/reviewfeed/pkg/response"
	"github.com/gin-gonic/gin"
)

type ReviewHandler struct {
	service review.ReviewService
}

func NewReviewHandler(service review.ReviewService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

func (h *ReviewHandler) CreateReview(c *gin.Context) {
	var req dto.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseBindError(c, err)
		return
	}

	username, err := response.GetUsername(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	res, err := h.service.CreateReview(c.Request.Context(), username, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (h *ReviewHandler) EditReview(c *gin.Context) {
	var req dto.EditReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseBindError(c, err)
		return
	}

	username, err := response.GetUsername(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.EditReview(c.Request.Context(), username, c.Param("id"), req); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "review updated"})
}
