package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is stored.
	// The access recorder copies it into the audit entry of every delivery attempt.
	RequestIDKey = "request_id"

	// maxRequestIDLength bounds caller-supplied IDs; longer values are replaced.
	maxRequestIDLength = 128
)

// RequestIDMiddleware returns a Gin handler that ensures every request carries a unique
// identifier propagated as an X-Request-ID HTTP header.
//
// An inbound X-Request-ID set by a load balancer or caller is reused when it is
// at most 128 bytes; otherwise a new UUID v4 is generated. The identifier is stored
// in gin.Context under RequestIDKey and echoed in the response header:
//
//	id := c.GetString(middleware.RequestIDKey)
//
// Register this middleware as early as possible so all downstream logging includes the ID:
//
//	router.Use(gin.Recovery())
//	router.Use(RequestIDMiddleware())
//	router.Use(MetricsMiddleware())
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
