package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"scnai-plant-server/src/core/utils"
)

// RequestLogger 记录每个请求的方法、路径、状态码和耗时
func RequestLogger(logger *utils.Logger) gin.HandlerFunc {
	log := logger.WithTag("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"client_ip":   c.ClientIP(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		if c.Writer.Status() >= 500 {
			log.Error("请求处理失败", fields)
		} else {
			log.Debug("请求完成", fields)
		}
	}
}
