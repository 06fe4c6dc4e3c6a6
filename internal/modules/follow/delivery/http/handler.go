package handler

import (
	"net/http"

	"anoa.com/reviewfeed/internal/modules/follow/dto"
	follow "anoa.com/reviewfeed/internal/modules/follow/service"
	"anoa.com/reviewfeed/pkg/response"
	"github.com/gin-gonic/gin"
)

type FollowHandler struct {
	service follow.FollowService
}

func NewFollowHandler(service follow.FollowService) *FollowHandler {
	return &FollowHandler{service: service}
}

func (h *FollowHandler) Follow(c *gin.Context) {
	var req dto.FollowRequest
	// the body is optional; an empty one follows a user
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ResponseBindError(c, err)
			return
		}
	}

	username, err := response.GetUsername(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.Follow(c.Request.Context(), username, c.Param("username"), req.Type); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "followed"})
}

func (h *FollowHandler) Unfollow(c *gin.Context) {
	username, err := response.GetUsername(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.Unfollow(c.Request.Context(), username, c.Param("username")); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "unfollowed"})
}
