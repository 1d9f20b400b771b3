package records

import (
	"context"

	"github.com/gin-gonic/gin"
)

// RecordsService 定义识别记录查询服务接口
type RecordsService interface {
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}
