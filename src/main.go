package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"scnai-plant-server/src/chat"
	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/configs/database"
	"scnai-plant-server/src/core/auth"
	corechat "scnai-plant-server/src/core/chat"
	"scnai-plant-server/src/core/diagnosis"
	"scnai-plant-server/src/core/image"
	"scnai-plant-server/src/core/metrics"
	"scnai-plant-server/src/core/middleware"
	"scnai-plant-server/src/core/providers/inference"
	"scnai-plant-server/src/core/providers/llm"
	"scnai-plant-server/src/core/store"
	"scnai-plant-server/src/core/utils"
	"scnai-plant-server/src/recognition"
	"scnai-plant-server/src/records"

	// 导入所有providers以确保init函数被调用
	_ "scnai-plant-server/src/core/providers/inference/mock"
	_ "scnai-plant-server/src/core/providers/inference/remote"
	_ "scnai-plant-server/src/core/providers/llm/openai"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(&config.Log)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

// Providers 启动时创建的外部服务提供者
type Providers struct {
	Inference inference.Provider
	LLM       llm.Provider
}

func (p *Providers) Cleanup(logger *utils.Logger) {
	if p.Inference != nil {
		if err := p.Inference.Cleanup(); err != nil {
			logger.Warn("识别提供者清理失败", map[string]interface{}{"error": err.Error()})
		}
	}
	if p.LLM != nil {
		if err := p.LLM.Cleanup(); err != nil {
			logger.Warn("LLM提供者清理失败", map[string]interface{}{"error": err.Error()})
		}
	}
}

func CreateProviders(config *configs.Config, taxonomy *diagnosis.Taxonomy, logger *utils.Logger) (*Providers, error) {
	inferenceProvider, err := inference.Create(config.Inference.Type, &inference.Config{
		Type:           config.Inference.Type,
		BaseURL:        config.Inference.BaseURL,
		ConnectTimeout: config.Inference.ConnectTimeout,
		ReadTimeout:    config.Inference.ReadTimeout,
		Codes:          taxonomy.Codes(),
	}, logger)
	if err != nil {
		return nil, err
	}

	llmProvider, err := llm.Create(config.Chat.Type, &llm.Config{
		Type:           config.Chat.Type,
		ModelName:      config.Chat.ModelName,
		BaseURL:        config.Chat.BaseURL,
		APIKey:         config.Chat.APIKey,
		Temperature:    config.Chat.Temperature,
		MaxTokens:      config.Chat.MaxTokens,
		ConnectTimeout: config.Chat.ConnectTimeout,
	}, logger)
	if err != nil {
		inferenceProvider.Cleanup()
		return nil, err
	}

	logger.Info(fmt.Sprintf("提供者初始化完成: inference=%s, llm=%s(%s)",
		config.Inference.Type, config.Chat.Type, config.Chat.ModelName))
	return &Providers{Inference: inferenceProvider, LLM: llmProvider}, nil
}

// buildGuards 受保护接口的中间件：认证在前，限流在后以便按用户计数
func buildGuards(config *configs.Config, logger *utils.Logger) ([]gin.HandlerFunc, error) {
	var guards []gin.HandlerFunc

	if config.Server.Auth.Enabled {
		authToken, err := auth.NewAuthToken(config.Server.Auth.Secret)
		if err != nil {
			return nil, err
		}
		guards = append(guards, auth.Middleware(authToken, logger))
	} else {
		logger.Warn("认证已关闭，所有请求按匿名用户处理")
	}

	if config.Web.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(config.Web.RateLimit.RequestsPerMinute, config.Web.RateLimit.Burst)
		guards = append(guards, middleware.RateLimit(limiter, logger))
	}
	return guards, nil
}

func StartHttpServer(config *configs.Config, logger *utils.Logger, db *gorm.DB, providers *Providers, taxonomy *diagnosis.Taxonomy, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.CORS(config.Web.AllowedOrigins))
	router.SetTrustedProxies([]string{"0.0.0.0"})

	if config.Web.Metrics.Enabled {
		metrics.Register()
		router.GET(config.Web.Metrics.Path, metrics.Handler())
	}

	// 已上传的图片
	router.Static(config.Upload.URLPrefix, config.Upload.Dir)
	if config.Web.StaticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(config.Web.StaticDir))))
	}

	guards, err := buildGuards(config, logger)
	if err != nil {
		return nil, err
	}

	recordStore := store.NewRecordStore(db)
	historyStore := store.NewChatHistoryStore(db)

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")

	// 启动识别服务
	recognizer := recognition.NewRecognizer(
		image.NewUploadValidator(&config.Upload, logger),
		image.NewLocalStore(&config.Upload, logger),
		providers.Inference,
		diagnosis.NewResolver(taxonomy),
		recordStore,
		logger,
	)
	recognitionService := recognition.NewDefaultRecognitionService(&config.Upload, logger, recognizer, providers.Inference, taxonomy, guards...)
	if err := recognitionService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error(fmt.Sprintf("Recognition 服务启动失败: %v", err))
		return nil, err
	}

	// 启动问答服务
	relay := corechat.NewRelay(providers.LLM, historyStore, &config.Chat, logger)
	chatService := chat.NewDefaultChatService(logger, relay, config.Chat.ModelName, guards...)
	if err := chatService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error(fmt.Sprintf("Chat 服务启动失败: %v", err))
		return nil, err
	}

	// 启动识别记录服务
	recordsService := records.NewDefaultRecordsService(logger, recordStore, guards...)
	if err := recordsService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error(fmt.Sprintf("Records 服务启动失败: %v", err))
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:              config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://%s", httpServer.Addr))

		// 在单独的 goroutine 中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			// 创建关闭超时上下文
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error(fmt.Sprintf("HTTP服务关闭失败: %v", err))
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("HTTP 服务启动失败: %v", err))
			return err
		}
		return nil
	})

	return httpServer, nil
}

func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group) {
	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// 等待信号或服务异常退出
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case sig := <-sigChan:
		logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))
	case err := <-done:
		if err != nil {
			logger.Error(fmt.Sprintf("服务异常退出: %v", err))
			os.Exit(1)
		}
		return
	}

	// 取消上下文，通知所有服务开始关闭
	cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.Error(fmt.Sprintf("服务关闭过程中出现错误: %v", err))
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

func main() {
	// 加载 .env 文件，需在解析配置前完成以便环境变量覆盖生效
	envErr := godotenv.Load()

	// 加载配置和初始化日志系统
	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}
	defer logger.Close()
	if envErr != nil {
		logger.Warn("未找到 .env 文件，使用系统环境变量")
	}

	// 初始化数据库连接
	db, dbType, err := database.InitDB(config.Database.URL, config.Database.AutoMigrate)
	if err != nil {
		logger.Error(fmt.Sprintf("数据库连接失败: %v", err))
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("数据库连接成功: %s", dbType))

	taxonomy, err := diagnosis.LoadTaxonomy(config.TaxonomyFile)
	if err != nil {
		logger.Error(fmt.Sprintf("加载病害分类表失败: %v", err))
		os.Exit(1)
	}

	providers, err := CreateProviders(config, taxonomy, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("初始化提供者失败: %v", err))
		os.Exit(1)
	}
	defer providers.Cleanup(logger)

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, groupCtx := errgroup.WithContext(ctx)

	if _, err := StartHttpServer(config, logger, db, providers, taxonomy, g, groupCtx); err != nil {
		logger.Error(fmt.Sprintf("启动服务失败: %v", err))
		cancel()
		os.Exit(1)
	}

	// 启动优雅关机处理
	GracefulShutdown(cancel, logger, g)

	logger.Info("程序已成功退出")
}
