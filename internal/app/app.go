package app

import (
	"context"
	"fmt"

	"storesync_v1/internal/config"
	"storesync_v1/internal/controller"
	"storesync_v1/internal/middleware"
	"storesync_v1/internal/repository"
	"storesync_v1/internal/service"
	"storesync_v1/internal/task"
	"storesync_v1/pkg/database"
	"storesync_v1/pkg/net"
	"storesync_v1/pkg/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ==================== 依赖容器 ====================

// App 服务端与命令行共用的依赖容器
type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *gorm.DB

	StoreConfig *service.StoreConfigService
	Gateway     *service.SyncGateway
	Engine      *service.Engine
	Reset       *service.ResetService
	Guard       *service.RunGuard
	Tasks       *task.TaskManager
	SyncCtl     *controller.SyncController
}

// New 连接数据库并组装全部依赖
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := database.InitDB(cfg.DB.DSN, database.Options{
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		Debug:        cfg.Env == config.EnvLocal && cfg.Log.Level == "debug",
	}, log)
	if err != nil {
		return nil, err
	}
	return NewWithDB(ctx, cfg, db, log)
}

// NewWithDB 使用已有连接组装依赖 (测试可传入 sqlite)
func NewWithDB(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) (*App, error) {
	if err := middleware.RegisterAuditCallbacks(db); err != nil {
		return nil, fmt.Errorf("注册审计回调失败: %w", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return nil, err
	}

	// -------- 配置与令牌加密 --------
	var box *utils.SecretBox
	if cfg.Auth.TokenKey != "" {
		b, err := utils.NewSecretBox(cfg.Auth.TokenKey)
		if err != nil {
			return nil, err
		}
		box = b
	} else {
		log.Warn("未配置 auth.token_key，远端令牌将以明文存储")
	}
	storeCfg := service.NewStoreConfigService(repository.NewConfigRepository(db), box)

	// -------- 传输层 --------
	tc := net.DefaultTransportConfig()
	tc.Timeout = cfg.Sync.RequestTimeout
	tc.RequestsPerSecond = cfg.Sync.RequestsPerSecond
	tc.Debug = cfg.Log.Level == "debug"
	transport := net.NewTransport(tc)
	retry := net.RetryPolicy{MaxAttempts: cfg.Sync.RetryAttempts, Delay: cfg.Sync.RetryDelay}

	auth := service.NewAuthService(storeCfg, transport, retry, log)
	gateway := service.NewSyncGateway(storeCfg, auth, transport, retry, log)

	// -------- 同步引擎 --------
	var customer service.CustomerEnricher
	if cfg.Sync.CustomerConsent {
		customer = service.NewSubscriberEnricher(repository.NewCustomerRepository(db))
	}
	cache := utils.NewStoreCache(cfg.Sync.CacheTTL)
	engine := service.NewEngine(service.SyncDeps{
		DB:       db,
		Config:   storeCfg,
		Gateway:  gateway,
		Cache:    cache,
		Customer: customer,
		Options:  service.ProcessorOptions{BatchSize: cfg.Sync.BatchSize},
		Log:      log,
	})
	guard := service.NewRunGuard()
	reset := service.NewResetService(engine, cache, guard, log)

	// -------- 定时任务 --------
	tasks := task.NewTaskManager(&task.TaskManagerDeps{
		Registry: engine.Registry,
		Stores:   engine.Stores,
		Enabled:  storeCfg,
		Jobs:     engine.Jobs,
		Guard:    guard,
		Retrier:  reset,
		Log:      log,
	}, &task.TaskManagerConfig{
		Enabled:        cfg.Cron.Enabled,
		ProductSpec:    cfg.Cron.Product,
		CategorySpec:   cfg.Cron.Category,
		MembershipSpec: cfg.Cron.Membership,
		OrderSpec:      cfg.Cron.Order,
		RetrySpec:      cfg.Cron.Retry,
		Concurrency:    cfg.Sync.Concurrency,
	})

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		StoreConfig: storeCfg,
		Gateway:     gateway,
		Engine:      engine,
		Reset:       reset,
		Guard:       guard,
		Tasks:       tasks,
		SyncCtl:     controller.NewSyncController(reset, tasks, engine.Jobs, log),
	}, nil
}

// Close 关闭数据库连接
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
