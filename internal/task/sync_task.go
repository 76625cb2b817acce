package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/internal/service"
	"storesync_v1/pkg/logger"

	"go.uber.org/zap"
)

// ==================== EntitySyncTask 单实体同步任务 ====================

// StoreLister 活跃店铺来源
type StoreLister interface {
	ListActive(ctx context.Context) ([]model.Store, error)
}

// EnablementChecker 店铺级实体开关
type EnablementChecker interface {
	EntityEnabled(ctx context.Context, storeID int64, entity model.EntityType) (bool, error)
}

// EntitySyncTask 一个实体类型在所有活跃店铺上的批处理
// 每次触发按店铺写一条调度记录，运行期间持有 (实体, 店铺) 互斥
type EntitySyncTask struct {
	proc    service.Processor
	stores  StoreLister
	enabled EnablementChecker
	jobs    repository.JobRepository
	guard   *service.RunGuard
	log     *zap.Logger

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewEntitySyncTask 创建单实体同步任务
func NewEntitySyncTask(
	proc service.Processor,
	stores StoreLister,
	enabled EnablementChecker,
	jobs repository.JobRepository,
	guard *service.RunGuard,
	log *zap.Logger,
) *EntitySyncTask {
	return &EntitySyncTask{
		proc:             proc,
		stores:           stores,
		enabled:          enabled,
		jobs:             jobs,
		guard:            guard,
		log:              log.Named("task").With(zap.String("entity", string(proc.Entity()))),
		concurrencyLimit: 3,
		sleepTime:        100 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *EntitySyncTask) SetConcurrency(limit int, sleep time.Duration) {
	if limit <= 0 {
		limit = 1
	}
	t.concurrencyLimit = limit
	t.sleepTime = sleep
}

func (t *EntitySyncTask) Entity() model.EntityType {
	return t.proc.Entity()
}

// SyncAllStores 处理所有启用了该实体的活跃店铺
// 单个店铺失败不影响其他店铺
func (t *EntitySyncTask) SyncAllStores(ctx context.Context) []*service.RunSummary {
	stores, err := t.stores.ListActive(ctx)
	if err != nil {
		t.log.Error("获取店铺列表失败", zap.Error(err))
		return nil
	}
	if len(stores) == 0 {
		t.log.Debug("无活跃店铺需要同步")
		return nil
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		summaries []*service.RunSummary
		errCount  int
	)

	for i := range stores {
		store := stores[i]
		select {
		case <-ctx.Done():
			t.log.Warn("任务超时停止")
			wg.Wait()
			return summaries
		default:
		}

		ok, err := t.enabled.EntityEnabled(ctx, store.ID, t.Entity())
		if err != nil {
			t.log.Warn("读取同步开关失败，按开启处理", zap.Int64("store_id", store.ID), zap.Error(err))
			ok = true
		}
		if !ok {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		if t.sleepTime > 0 {
			time.Sleep(t.sleepTime)
		}

		go func(storeID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			sum, err := t.runStore(ctx, storeID, nil, true)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, service.ErrStoreBusy) {
					errCount++
				}
				return
			}
			summaries = append(summaries, sum)
		}(store.ID)
	}

	wg.Wait()
	t.log.Info("同步完成", zap.Int("stores", len(stores)), zap.Int("runs", len(summaries)), zap.Int("errors", errCount))
	return summaries
}

// RunStore 单店铺运行一次，ids 非空时只处理这些本地 ID
// 店铺上有任何实体在运行时返回 ErrStoreBusy
func (t *EntitySyncTask) RunStore(ctx context.Context, storeID int64, ids []int64) (*service.RunSummary, error) {
	return t.runStore(ctx, storeID, ids, false)
}

// runStore wait 为 true 时等待其他实体的运行结束；同一实体仍在运行则跳过
func (t *EntitySyncTask) runStore(ctx context.Context, storeID int64, ids []int64, wait bool) (*service.RunSummary, error) {
	var release func()
	if wait {
		r, err := t.guard.Acquire(ctx, t.Entity(), storeID)
		if err != nil {
			t.log.Info("店铺不可用，跳过", zap.Int64("store_id", storeID), zap.Error(err))
			return nil, err
		}
		release = r
	} else {
		r, ok := t.guard.TryAcquire(t.Entity(), storeID)
		if !ok {
			holder, _ := t.guard.Holder(storeID)
			t.log.Info("店铺同步正在运行，跳过", zap.Int64("store_id", storeID), zap.String("holder", string(holder)))
			return nil, fmt.Errorf("%w: %s/%d", service.ErrStoreBusy, holder, storeID)
		}
		release = r
	}
	defer release()

	job, err := t.jobs.Enqueue(ctx, t.Entity().JobCode(), storeID)
	if err != nil {
		return nil, fmt.Errorf("写入调度记录失败: %w", err)
	}
	if err := t.jobs.Start(ctx, job.ID, logger.NewRunID()); err != nil {
		// 入队后被重置取消
		t.log.Info("调度记录已取消，跳过", zap.Int64("store_id", storeID), zap.Int64("job_id", job.ID))
		return nil, fmt.Errorf("调度记录 %d 已取消: %w", job.ID, err)
	}

	sum, runErr := t.runSafely(ctx, storeID, ids)

	status, msg := model.JobStatusSuccess, ""
	if runErr != nil {
		status, msg = model.JobStatusError, runErr.Error()
		t.log.Error("店铺同步失败", zap.Int64("store_id", storeID), zap.Error(runErr))
	} else {
		msg = fmt.Sprintf("selected=%d succeeded=%d failed=%d deferred=%d deleted=%d",
			sum.Selected, sum.Succeeded, sum.Failed, sum.Deferred, sum.Deleted)
	}
	if err := t.jobs.Finish(context.WithoutCancel(ctx), job.ID, status, msg); err != nil {
		t.log.Warn("更新调度记录失败", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	return sum, runErr
}

func (t *EntitySyncTask) runSafely(ctx context.Context, storeID int64, ids []int64) (sum *service.RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("处理器 panic: %v", r)
		}
	}()
	return t.proc.Run(ctx, storeID, ids)
}
