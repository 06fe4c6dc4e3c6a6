package handler

import (
	"net/http"

	"anoa.com/reviewfeed/internal/modules/user/dto"
	user "anoa.com/reviewfeed/internal/modules/user/service"
	"anoa.com/reviewfeed/pkg/response"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	service user.UserService
}

func NewUserHandler(service user.UserService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) InitializeUser(c *gin.Context) {
	var req dto.InitializeUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseBindError(c, err)
		return
	}

	uid, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	created, err := h.service.InitializeUser(c.Request.Context(), uid, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if !created {
		c.JSON(http.StatusOK, gin.H{"message": "user already initialized"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "user initialized"})
}

func (h *UserHandler) ClaimUsername(c *gin.Context) {
	var req dto.ClaimUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseBindError(c, err)
		return
	}

	uid, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	username, err := h.service.ClaimUsername(c.Request.Context(), uid, req.Username)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ClaimUsernameResponse{Username: username})
}
