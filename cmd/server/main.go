package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storesync_v1/internal/app"
	"storesync_v1/internal/config"
	"storesync_v1/internal/middleware"
	"storesync_v1/internal/router"
	"storesync_v1/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}

	// 2. 初始化日志
	log, err := logger.Init(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Auth.JWTSecret != "" {
		jwtCfg := middleware.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.Auth.JWTSecret
		middleware.SetJWTConfig(jwtCfg)
	} else {
		log.Warn("未配置 auth.jwt_secret，使用默认签名密钥")
	}

	// 3. 初始化依赖
	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("初始化失败", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	// 4. 启动定时任务
	if err := a.Tasks.Start(); err != nil {
		log.Fatal("启动定时任务失败", zap.Error(err))
	}

	// 5. 初始化路由
	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.InitRoutes(r, a.SyncCtl, router.Options{TriggerCooldown: cfg.Sync.TriggerCooldown})

	// 6. 启动服务
	startServer(r, cfg.Server.Addr, log)

	a.Tasks.Stop()
}

// startServer 启动 HTTP 服务并等待退出信号
func startServer(r *gin.Engine, addr string, log *zap.Logger) {
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Info("服务启动", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("服务强制关闭", zap.Error(err))
		return
	}

	log.Info("服务已退出")
}
