package server

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/response"
	"anoa.com/reviewfeed/pkg/trigger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const triggerSecretHeader = "X-Trigger-Secret"

// eventsHandler accepts change events produced outside this process, such as
// a replicated store emitting its own change feed.
type eventsHandler struct {
	runtime *trigger.Runtime
	secret  string
}

func newEventsHandler(rt *trigger.Runtime, secret string) *eventsHandler {
	return &eventsHandler{runtime: rt, secret: secret}
}

// Deliver is disabled while no secret is configured.
func (h *eventsHandler) Deliver(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "external events are disabled"})
		return
	}
	given := c.GetHeader(triggerSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid trigger secret"})
		return
	}

	var e trigger.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		response.ResponseBindError(c, err)
		return
	}
	if e.Trigger == "" || e.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trigger and path are required"})
		return
	}

	delivered, err := h.runtime.Deliver(c.Request.Context(), e)
	switch {
	case errors.Is(err, trigger.ErrUnknownTrigger):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, trigger.ErrPathMismatch), errors.Is(err, trigger.ErrKindMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.Log.WithFields(logrus.Fields{"trigger": e.Trigger, "path": e.Path}).WithError(err).Error("failed to deliver external event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deliver event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":   delivered.ID,
		"type": delivered.Type,
	})
}
