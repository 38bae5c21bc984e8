package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key carrying the request identifier.
const RequestIDKey = "request_id"

// RequestIDHeader is the header used to propagate identifiers end to end.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a unique identifier to every request, honoring an
// identifier supplied by the caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}
