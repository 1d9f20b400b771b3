package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
)

const (
	// ContextUserID gin上下文中保存用户ID的键
	ContextUserID = "userId"

	bearerPrefix = "Bearer "
)

// Middleware 校验 Authorization: Bearer <token>，通过后写入用户ID
func Middleware(at *AuthToken, logger *utils.Logger) gin.HandlerFunc {
	log := logger.WithTag("auth")
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.Fail("TOKEN_MISSING", "未提供认证令牌"))
			return
		}

		claims, err := at.VerifyToken(strings.TrimSpace(header[len(bearerPrefix):]))
		if err != nil {
			log.Debug("令牌校验失败", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.Fail("TOKEN_INVALID", "Token无效或已过期"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

// UserID 获取当前请求的用户ID，未认证时返回0
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserID)
}
