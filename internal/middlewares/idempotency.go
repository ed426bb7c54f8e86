package middlewares

import (
	"strings"

	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/gin-gonic/gin"
)

const IdempotencyHeader = "Idempotency-Key"

// maxIdempotencyKeyLen 超长的键直接丢弃
const maxIdempotencyKeyLen = 255

// IdempotencyKey 把请求头里的幂等键放进请求上下文，审计事件会带上它。这里不做去重
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if key != "" && len(key) <= maxIdempotencyKeyLen {
			c.Request = c.Request.WithContext(audit.WithIdempotencyKey(c.Request.Context(), key))
		}
		c.Next()
	}
}
