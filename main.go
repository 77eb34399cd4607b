package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/handler"
	"github.com/Jwuthri/spacial-limit/middleware"
	"github.com/Jwuthri/spacial-limit/service"
	"github.com/Jwuthri/spacial-limit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting spatial understanding server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	ctx := context.Background()

	// 初始化Redis，连接失败时不使用缓存
	var cache handler.DetectionCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = redisService
		}
		defer redisService.Close()
	}

	// 初始化视觉模型
	visionModel, err := service.NewVisionModel(ctx, &cfg.Vision)
	if err != nil {
		utils.Logger.Fatal("failed to create vision model client", zap.Error(err))
	}
	policies := service.NewModelPolicies(cfg.Vision.Models)
	detector := service.NewDetectorService(visionModel, policies, &cfg.Vision)

	// 初始化历史记录存储
	store, err := service.NewHistoryStore(&cfg.Database)
	if err != nil {
		utils.Logger.Fatal("failed to initialize history store", zap.Error(err))
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	events := service.NewEventPublisher(&cfg.Events)

	// 初始化Handler
	analyzeHandler := handler.NewAnalyzeHandler(cfg, detector, service.NewImageService(), service.NewOverlayService(),
		store, cache, events)
	historyHandler := handler.NewHistoryHandler(store, events)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.MaxMultipartMemory = cfg.Upload.MaxSize

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Spatial Understanding API with Tools & Database"})
	})

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	r.POST("/analyze", analyzeHandler.Analyze)
	r.POST("/analyze-with-overlay", analyzeHandler.AnalyzeWithOverlay)
	r.POST("/save-analysis", analyzeHandler.SaveAnalysis)
	r.GET("/history", historyHandler.List)
	r.GET("/prediction/:id", historyHandler.Get)
	r.DELETE("/prediction/:id", historyHandler.Delete)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	utils.Logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server forced to shutdown", zap.Error(err))
	}

	utils.Logger.Info("server exited")
}
