package handler

import (
	"net/http"
	"strconv"

	feed "anoa.com/reviewfeed/internal/modules/feed/service"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/response"
	"github.com/gin-gonic/gin"
)

type FeedHandler struct {
	service feed.FeedService
}

func NewFeedHandler(service feed.FeedService) *FeedHandler {
	return &FeedHandler{service: service}
}

// GetNewsfeed serves GET /api/newsfeed?username=&page=
func (h *FeedHandler) GetNewsfeed(c *gin.Context) {
	username := permalink.EscapeKey(c.Query("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}

	items, err := h.service.GetNewsfeed(c.Request.Context(), username, page)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}
