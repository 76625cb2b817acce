package task

import (
	"context"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ==================== TaskManager 同步任务管理器 ====================

// TaskManager 统一管理各实体的定时同步与失败重试
// 调度表达式带秒字段
type TaskManager struct {
	cron  *cron.Cron
	tasks map[model.EntityType]*EntitySyncTask
	retry *RetryTask
	specs map[model.EntityType]string
	cfg   *TaskManagerConfig
	log   *zap.Logger
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	Registry *service.Registry
	Stores   StoreLister
	Enabled  EnablementChecker
	Jobs     repository.JobRepository
	Guard    *service.RunGuard
	Retrier  FailedRetrier
	Log      *zap.Logger
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	Enabled bool

	// 空表达式表示该实体不参与定时调度，但仍可手动触发
	ProductSpec    string
	CategorySpec   string
	MembershipSpec string
	OrderSpec      string
	RetrySpec      string

	Concurrency int
	// RunTimeout 单次定时触发的最长执行时间
	RunTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		Enabled:        true,
		ProductSpec:    "0 */5 * * * *",
		CategorySpec:   "0 */10 * * * *",
		MembershipSpec: "30 */5 * * * *",
		OrderSpec:      "0 */2 * * * *",
		RetrySpec:      "0 0 * * * *",
		Concurrency:    3,
		RunTimeout:     10 * time.Minute,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	tm := &TaskManager{
		cron:  cron.New(cron.WithSeconds()),
		tasks: make(map[model.EntityType]*EntitySyncTask),
		specs: map[model.EntityType]string{
			model.EntityProduct:    cfg.ProductSpec,
			model.EntityCategory:   cfg.CategorySpec,
			model.EntityMembership: cfg.MembershipSpec,
			model.EntityOrder:      cfg.OrderSpec,
		},
		cfg: cfg,
		log: log.Named("task_manager"),
	}

	for _, proc := range deps.Registry.All() {
		t := NewEntitySyncTask(proc, deps.Stores, deps.Enabled, deps.Jobs, deps.Guard, log)
		t.SetConcurrency(cfg.Concurrency, 100*time.Millisecond)
		tm.tasks[proc.Entity()] = t
	}
	if deps.Retrier != nil {
		tm.retry = NewRetryTask(deps.Retrier, nil, log)
	}
	return tm
}

// ==================== 生命周期管理 ====================

// Start 注册并启动定时任务
func (tm *TaskManager) Start() error {
	if !tm.cfg.Enabled {
		tm.log.Info("定时同步已关闭")
		return nil
	}
	tm.log.Info("正在启动同步任务...")

	for _, entity := range model.AllEntityTypes {
		t, ok := tm.tasks[entity]
		spec := tm.specs[entity]
		if !ok || spec == "" {
			continue
		}
		if _, err := tm.cron.AddFunc(spec, tm.scheduled(t)); err != nil {
			return err
		}
		tm.log.Info("已注册定时同步", zap.String("entity", string(entity)), zap.String("spec", spec))
	}

	if tm.retry != nil && tm.cfg.RetrySpec != "" {
		_, err := tm.cron.AddFunc(tm.cfg.RetrySpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), tm.cfg.RunTimeout)
			defer cancel()
			tm.retry.RetryAll(ctx)
		})
		if err != nil {
			return err
		}
	}

	tm.cron.Start()
	tm.log.Info("同步任务已全部启动")
	return nil
}

func (tm *TaskManager) scheduled(t *EntitySyncTask) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), tm.cfg.RunTimeout)
		defer cancel()
		t.SyncAllStores(ctx)
	}
}

// Stop 停止调度并等待正在执行的任务
func (tm *TaskManager) Stop() {
	tm.log.Info("正在停止同步任务...")
	ctx := tm.cron.Stop()
	<-ctx.Done()
	tm.log.Info("同步任务已全部停止")
}

// ==================== 手动触发接口 ====================

// Trigger 立即为单个店铺运行一批
func (tm *TaskManager) Trigger(ctx context.Context, entity model.EntityType, storeID int64) (*service.RunSummary, error) {
	t, ok := tm.tasks[entity]
	if !ok {
		return nil, ErrTaskDisabled
	}
	return t.RunStore(ctx, storeID, nil)
}

// TriggerAll 后台为所有店铺运行一批
func (tm *TaskManager) TriggerAll(entity model.EntityType) error {
	t, ok := tm.tasks[entity]
	if !ok {
		return ErrTaskDisabled
	}
	go tm.scheduled(t)()
	return nil
}

// RetryNow 同步执行一次失败重试
func (tm *TaskManager) RetryNow(ctx context.Context) (int, error) {
	if tm.retry == nil {
		return 0, ErrTaskDisabled
	}
	return tm.retry.RetryAll(ctx), nil
}

// ==================== 状态查询 ====================

// Status 实体 → 调度表达式，未注册的实体不出现
func (tm *TaskManager) Status() map[string]string {
	out := make(map[string]string, len(tm.tasks))
	for entity := range tm.tasks {
		spec := tm.specs[entity]
		if !tm.cfg.Enabled || spec == "" {
			spec = "manual"
		}
		out[string(entity)] = spec
	}
	return out
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)
