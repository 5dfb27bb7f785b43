package api

import (
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
)

const requestIDKey = "request_id"

// requestIDMiddleware keeps an incoming X-Request-ID or assigns a new KSUID,
// and echoes it on the response.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
