package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request ID on both the inbound request and the response.
const Header = "X-Request-ID"

const contextKey = "request_id"

// maxInboundLen guards against oversized client-supplied IDs ending up in logs.
const maxInboundLen = 64

// Middleware tags every request with an ID, reusing a sane inbound header
// value when the caller already set one.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" || len(id) > maxInboundLen {
			id = uuid.NewString()
		}

		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// FromContext returns the request ID assigned by Middleware, or "".
func FromContext(c *gin.Context) string {
	v, ok := c.Get(contextKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
