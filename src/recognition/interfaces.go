package recognition

import (
	"context"

	"github.com/gin-gonic/gin"
)

// RecognitionService 定义识别服务接口
type RecognitionService interface {
	// 将识别相关路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}
