package handler

import (
	"net/http"

	"anoa.com/reviewfeed/internal/modules/reply/dto"
	reply "anoa.com/reviewfeed/internal/modules/reply/service"
	"anoa.com/reviewfeed/pkg/response"
	"github.com/gin-gonic/gin"
)

type ReplyHandler struct {
	service reply.ReplyService
}

func NewReplyHandler(service reply.ReplyService) *ReplyHandler {
	return &ReplyHandler{service: service}
}

func (h *ReplyHandler) CreateReply(c *gin.Context) {
	var req dto.CreateReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseBindError(c, err)
		return
	}

	username, err := response.GetUsername(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	res, err := h.service.CreateReply(c.Request.Context(), username, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (h *ReplyHandler) EditReply(c *gin.Context) {
	var req dto.EditReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseBindError(c, err)
		return
	}

	username, err := response.GetUsername(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.EditReply(c.Request.Context(), username, c.Param("id"), req); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "reply updated"})
}
