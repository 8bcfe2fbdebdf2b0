package middleware

import (
	"net/http"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AbortWithError resolves err to its status and message, logs it and aborts
// the chain. Client errors are logged at warn, server errors at error.
func AbortWithError(c *gin.Context, log *logrus.Logger, err error) {
	status, message := apperrors.Resolve(err)

	entry := log.WithFields(logrus.Fields{
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"status":     status,
		"request_id": c.GetString(RequestIDKey),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}
