package response

import (
	"net/http"

	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/validator"
	"github.com/gin-gonic/gin"
)

// GetUserID retrieves the authenticated uid from the context
func GetUserID(c *gin.Context) (string, error) {
	v, exists := c.Get("user_id")
	if !exists {
		return "", apperror.ErrUnauthorized
	}
	uid, ok := v.(string)
	if !ok || uid == "" {
		return "", apperror.ErrUnauthorized
	}
	return uid, nil
}

// GetUsername retrieves the caller's username key, set once the user has
// claimed one.
func GetUsername(c *gin.Context) (string, error) {
	username := c.GetString("username")
	if username == "" {
		return "", apperror.ErrForbidden
	}
	return username, nil
}

// ResponseError standardized error response
func ResponseError(c *gin.Context, err error) {
	code := apperror.MapErrorToStatus(err)

	// Log internal errors
	if code == http.StatusInternalServerError {
		logger.Log.WithError(err).WithField("path", c.FullPath()).Error("internal error")
	}

	c.JSON(code, gin.H{"error": err.Error()})
}

// ResponseBindError reports a request that failed binding or validation.
func ResponseBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
}
