package chat

import (
	"context"

	"github.com/gin-gonic/gin"
)

// ChatService 定义智能问答服务接口
type ChatService interface {
	// 将问答相关路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}
