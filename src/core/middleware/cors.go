package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// exposedHeaders 允许跨域前端读取的响应头，问答接口通过它返回会话ID
const exposedHeaders = "X-Session-Id"

// CORS 为允许的来源添加跨域响应头，未配置来源时直接放行。
// 配置 "*" 时返回通配来源且不允许携带凭证；显式列出的来源原样回显并允许凭证。
func CORS(origins []string) gin.HandlerFunc {
	wildcard := slices.Contains(origins, "*")

	return func(c *gin.Context) {
		if len(origins) == 0 {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		switch {
		case origin == "":
			// 非跨域请求
		case slices.Contains(origins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
			setCORSHeaders(c)
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
			setCORSHeaders(c)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
	c.Header("Access-Control-Expose-Headers", exposedHeaders)
}
