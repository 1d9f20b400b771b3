package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/core/diagnosis"
	"scnai-plant-server/src/core/providers/inference"
	"scnai-plant-server/src/core/providers/llm"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"

	// 导入所有providers以确保init函数被调用
	_ "scnai-plant-server/src/core/providers/inference/mock"
	_ "scnai-plant-server/src/core/providers/inference/remote"
	_ "scnai-plant-server/src/core/providers/llm/openai"
)

const checkTimeout = 30 * time.Second

// checkResult 单项检查结果
type checkResult struct {
	Name     string
	Success  bool
	Duration time.Duration
	Error    error
	Details  map[string]interface{}
}

func runCheck(name string, fn func(ctx context.Context, details map[string]interface{}) error) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	result := checkResult{Name: name, Details: map[string]interface{}{}}
	start := time.Now()
	result.Error = fn(ctx, result.Details)
	result.Duration = time.Since(start)
	result.Success = result.Error == nil
	return result
}

// checkInference 调用识别服务的 /health
func checkInference(config *configs.Config, codes []string, logger *utils.Logger) checkResult {
	return runCheck("inference", func(ctx context.Context, details map[string]interface{}) error {
		details["type"] = config.Inference.Type
		details["url"] = config.Inference.BaseURL

		provider, err := inference.Create(config.Inference.Type, &inference.Config{
			Type:           config.Inference.Type,
			BaseURL:        config.Inference.BaseURL,
			ConnectTimeout: config.Inference.ConnectTimeout,
			ReadTimeout:    config.Inference.ReadTimeout,
			Codes:          codes,
		}, logger)
		if err != nil {
			return err
		}
		defer provider.Cleanup()

		return provider.Health(ctx)
	})
}

// checkChat 发送一条简短消息并读取流式回复
func checkChat(config *configs.Config, logger *utils.Logger) checkResult {
	return runCheck("chat", func(ctx context.Context, details map[string]interface{}) error {
		details["type"] = config.Chat.Type
		details["model"] = config.Chat.ModelName
		details["url"] = config.Chat.BaseURL

		provider, err := llm.Create(config.Chat.Type, &llm.Config{
			Type:           config.Chat.Type,
			ModelName:      config.Chat.ModelName,
			BaseURL:        config.Chat.BaseURL,
			APIKey:         config.Chat.APIKey,
			Temperature:    config.Chat.Temperature,
			MaxTokens:      16,
			ConnectTimeout: config.Chat.ConnectTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer provider.Cleanup()

		stream, err := provider.OpenStream(ctx, []types.Message{
			{Role: types.RoleUser, Content: "你好，请回复“在线”"},
		})
		if err != nil {
			return err
		}
		defer stream.Close()

		var reply strings.Builder
		for {
			part, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			reply.WriteString(part)
		}
		details["reply"] = reply.String()
		return nil
	})
}

func main() {
	fmt.Println("=== 连通性检查测试 ===")

	_ = godotenv.Load()

	// 加载配置
	config, path, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("使用配置文件: %s", path)

	// 创建日志记录器
	logger, err := utils.NewLogger(&config.Log)
	if err != nil {
		log.Fatalf("创建日志记录器失败: %v", err)
	}
	defer logger.Close()

	taxonomy, err := diagnosis.LoadTaxonomy(config.TaxonomyFile)
	if err != nil {
		log.Fatalf("加载病害分类表失败: %v", err)
	}

	results := []checkResult{
		checkInference(config, taxonomy.Codes(), logger),
		checkChat(config, logger),
	}

	failed := false
	fmt.Printf("\n=== 详细检查结果 ===\n")
	for _, result := range results {
		fmt.Printf("%s:\n", result.Name)
		fmt.Printf("  成功: %v\n", result.Success)
		fmt.Printf("  耗时: %v\n", result.Duration)
		if result.Error != nil {
			failed = true
			fmt.Printf("  错误: %v\n", result.Error)
		}
		fmt.Printf("  详细信息:\n")
		for key, value := range result.Details {
			fmt.Printf("    %s: %v\n", key, value)
		}
		fmt.Printf("\n")
	}

	fmt.Println("=== 连通性检查测试完成 ===")
	if failed {
		os.Exit(1)
	}
}
