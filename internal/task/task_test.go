package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ==================== 辅助函数 ====================

func setupTaskTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	if err := repository.Migrate(context.Background(), db); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

// fakeProcessor 记录调用的店铺，可以阻塞或返回错误
type fakeProcessor struct {
	entity model.EntityType

	mu      sync.Mutex
	calls   []int64
	ids     [][]int64
	fail    map[int64]error
	block   chan struct{}
	started chan struct{}
	panics  bool
}

func newFakeProcessor(entity model.EntityType) *fakeProcessor {
	return &fakeProcessor{entity: entity, fail: map[int64]error{}}
}

func (p *fakeProcessor) Entity() model.EntityType { return p.entity }

func (p *fakeProcessor) Run(ctx context.Context, storeID int64, ids []int64) (*service.RunSummary, error) {
	p.mu.Lock()
	p.calls = append(p.calls, storeID)
	p.ids = append(p.ids, ids)
	err := p.fail[storeID]
	block, started, panics := p.block, p.started, p.panics
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if panics {
		panic("processor exploded")
	}
	if err != nil {
		return nil, err
	}
	return &service.RunSummary{Entity: p.entity, StoreID: storeID, Selected: 1, Succeeded: 1}, nil
}

func (p *fakeProcessor) storeCalls() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]int64(nil), p.calls...)
	return out
}

type taskEnv struct {
	db    *gorm.DB
	jobs  repository.JobRepository
	cfg   *service.StoreConfigService
	guard *service.RunGuard
}

func setupTaskEnv(t *testing.T, storeIDs ...int64) *taskEnv {
	db := setupTaskTestDB(t)
	stores := repository.NewStoreRepository(db)
	for _, id := range storeIDs {
		require.NoError(t, stores.Create(context.Background(), &model.Store{ID: id, Code: fmt.Sprintf("store-%d", id), Name: "S"}))
	}
	return &taskEnv{
		db:    db,
		jobs:  repository.NewJobRepository(db),
		cfg:   service.NewStoreConfigService(repository.NewConfigRepository(db), nil),
		guard: service.NewRunGuard(),
	}
}

func (e *taskEnv) newTask(proc service.Processor) *EntitySyncTask {
	t := NewEntitySyncTask(proc, repository.NewStoreRepository(e.db), e.cfg, e.jobs, e.guard, zap.NewNop())
	t.SetConcurrency(2, 0)
	return t
}

// ==================== EntitySyncTask 测试 ====================

func TestEntitySyncTask_SyncAllStores(t *testing.T) {
	env := setupTaskEnv(t, 1, 2, 3)
	ctx := context.Background()
	// 店铺 3 停用
	require.NoError(t, env.db.Model(&model.Store{}).Where("id = ?", 3).Update("is_active", false).Error)

	proc := newFakeProcessor(model.EntityProduct)
	task := env.newTask(proc)

	sums := task.SyncAllStores(ctx)
	assert.Len(t, sums, 2)
	assert.ElementsMatch(t, []int64{1, 2}, proc.storeCalls())

	jobs, err := env.jobs.ListRecent(ctx, model.EntityProduct.JobCode(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, model.JobStatusSuccess, j.Status)
		assert.NotEmpty(t, j.RunID)
		assert.Contains(t, j.Messages, "succeeded=1")
	}
}

func TestEntitySyncTask_SkipsDisabledStores(t *testing.T) {
	env := setupTaskEnv(t, 1, 2)
	ctx := context.Background()
	require.NoError(t, env.cfg.Set(ctx, 2, service.PathEntityEnabled(model.EntityOrder), "0"))

	proc := newFakeProcessor(model.EntityOrder)
	env.newTask(proc).SyncAllStores(ctx)
	assert.Equal(t, []int64{1}, proc.storeCalls())

	// 默认作用域关闭后全部跳过，店铺级开启优先
	require.NoError(t, env.cfg.Set(ctx, model.DefaultScopeStoreID, service.PathEntityEnabled(model.EntityOrder), "false"))
	require.NoError(t, env.cfg.Set(ctx, 2, service.PathEntityEnabled(model.EntityOrder), "1"))
	proc = newFakeProcessor(model.EntityOrder)
	env.newTask(proc).SyncAllStores(ctx)
	assert.Equal(t, []int64{2}, proc.storeCalls())
}

func TestEntitySyncTask_FailureIsolatedPerStore(t *testing.T) {
	env := setupTaskEnv(t, 1, 2)
	ctx := context.Background()
	proc := newFakeProcessor(model.EntityCategory)
	proc.fail[1] = errors.New("数据库不可用")

	sums := env.newTask(proc).SyncAllStores(ctx)
	require.Len(t, sums, 1)
	assert.Equal(t, int64(2), sums[0].StoreID)

	jobs, err := env.jobs.ListRecent(ctx, model.EntityCategory.JobCode(), 10)
	require.NoError(t, err)
	statuses := map[int64]string{}
	for _, j := range jobs {
		statuses[j.StoreID] = j.Status
	}
	assert.Equal(t, model.JobStatusError, statuses[1])
	assert.Equal(t, model.JobStatusSuccess, statuses[2])
}

func TestEntitySyncTask_PanicBecomesError(t *testing.T) {
	env := setupTaskEnv(t, 1)
	proc := newFakeProcessor(model.EntityProduct)
	proc.panics = true

	_, err := env.newTask(proc).RunStore(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	_, busy := env.guard.Holder(1)
	assert.False(t, busy)
}

func TestEntitySyncTask_OverlappingRunSkipped(t *testing.T) {
	env := setupTaskEnv(t, 1)
	ctx := context.Background()
	proc := newFakeProcessor(model.EntityProduct)
	proc.block = make(chan struct{})
	proc.started = make(chan struct{}, 1)
	task := env.newTask(proc)

	done := make(chan error, 1)
	go func() {
		_, err := task.RunStore(ctx, 1, nil)
		done <- err
	}()

	select {
	case <-proc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("第一次运行未开始")
	}

	_, err := task.RunStore(ctx, 1, nil)
	assert.True(t, errors.Is(err, service.ErrStoreBusy))

	close(proc.block)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{1}, proc.storeCalls())
}

func TestEntitySyncTask_EntitiesSerializedPerStore(t *testing.T) {
	env := setupTaskEnv(t, 1)
	ctx := context.Background()
	products := newFakeProcessor(model.EntityProduct)
	products.block = make(chan struct{})
	products.started = make(chan struct{}, 1)
	orders := newFakeProcessor(model.EntityOrder)
	productTask, orderTask := env.newTask(products), env.newTask(orders)

	done := make(chan error, 1)
	go func() {
		_, err := productTask.RunStore(ctx, 1, nil)
		done <- err
	}()
	select {
	case <-products.started:
	case <-time.After(5 * time.Second):
		t.Fatal("商品运行未开始")
	}

	// 手动触发立即返回忙
	_, err := orderTask.RunStore(ctx, 1, nil)
	assert.True(t, errors.Is(err, service.ErrStoreBusy))

	// 定时运行等待商品运行结束
	scheduled := make(chan []*service.RunSummary, 1)
	go func() { scheduled <- orderTask.SyncAllStores(ctx) }()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, orders.storeCalls())

	close(products.block)
	require.NoError(t, <-done)
	select {
	case sums := <-scheduled:
		assert.Len(t, sums, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("订单定时运行未完成")
	}
	assert.Equal(t, []int64{1}, orders.storeCalls())
}

func TestEntitySyncTask_RunStorePassesIDs(t *testing.T) {
	env := setupTaskEnv(t, 1)
	proc := newFakeProcessor(model.EntityProduct)

	_, err := env.newTask(proc).RunStore(context.Background(), 1, []int64{10, 11})
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{10, 11}}, proc.ids)
}

// ==================== RetryTask 测试 ====================

type fakeRetrier struct {
	calls []model.EntityType
	fail  model.EntityType
}

func (r *fakeRetrier) RetryFailed(_ context.Context, entity model.EntityType) ([]*service.RunSummary, error) {
	r.calls = append(r.calls, entity)
	if entity == r.fail {
		return nil, errors.New("重试失败")
	}
	return []*service.RunSummary{{Entity: entity}}, nil
}

func TestRetryTask_ContinuesAfterError(t *testing.T) {
	r := &fakeRetrier{fail: model.EntityProduct}
	task := NewRetryTask(r, nil, zap.NewNop())

	n := task.RetryAll(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, model.AllEntityTypes, r.calls)
}

// ==================== TaskManager 测试 ====================

func newTestManager(t *testing.T, env *taskEnv, cfg *TaskManagerConfig, procs ...service.Processor) *TaskManager {
	return NewTaskManager(&TaskManagerDeps{
		Registry: service.NewRegistry(procs...),
		Stores:   repository.NewStoreRepository(env.db),
		Enabled:  env.cfg,
		Jobs:     env.jobs,
		Guard:    env.guard,
		Retrier:  &fakeRetrier{},
		Log:      zap.NewNop(),
	}, cfg)
}

func TestTaskManager_Trigger(t *testing.T) {
	env := setupTaskEnv(t, 1)
	proc := newFakeProcessor(model.EntityOrder)
	tm := newTestManager(t, env, nil, proc)

	sum, err := tm.Trigger(context.Background(), model.EntityOrder, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)

	_, err = tm.Trigger(context.Background(), model.EntityProduct, 1)
	assert.True(t, errors.Is(err, ErrTaskDisabled))

	n, err := tm.RetryNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(model.AllEntityTypes), n)
}

func TestTaskManager_StartStop(t *testing.T) {
	env := setupTaskEnv(t)
	cfg := DefaultConfig()
	cfg.OrderSpec = ""
	tm := newTestManager(t, env, cfg, newFakeProcessor(model.EntityProduct), newFakeProcessor(model.EntityOrder))

	require.NoError(t, tm.Start())
	assert.Equal(t, map[string]string{"product": "0 */5 * * * *", "order": "manual"}, tm.Status())
	tm.Stop()
}

func TestTaskManager_InvalidSpec(t *testing.T) {
	env := setupTaskEnv(t)
	cfg := DefaultConfig()
	cfg.ProductSpec = "every five minutes"
	tm := newTestManager(t, env, cfg, newFakeProcessor(model.EntityProduct))

	assert.Error(t, tm.Start())
}
