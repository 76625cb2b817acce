package service

import (
	"context"
	"fmt"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/utils"

	"go.uber.org/zap"
)

// ==================== ResetService 重置与重试 ====================

// ResetService 操作员入口：重置同步状态、重试失败记录、查看统计
// 两个操作都可安全重复执行
type ResetService struct {
	registry *Registry
	records  repository.SyncRecordRepository
	members  repository.MembershipRepository
	flags    repository.FlagRepository
	stores   repository.StoreRepository
	jobs     repository.JobRepository
	cache    *utils.StoreCache
	guard    *RunGuard
	log      *zap.Logger
}

func NewResetService(engine *Engine, cache *utils.StoreCache, guard *RunGuard, log *zap.Logger) *ResetService {
	return &ResetService{
		registry: engine.Registry,
		records:  engine.Records,
		members:  engine.Members,
		flags:    engine.Flags,
		stores:   engine.Stores,
		jobs:     engine.Jobs,
		cache:    cache,
		guard:    guard,
		log:      log.Named("reset"),
	}
}

// ResetReport 重置结果
type ResetReport struct {
	Entity        model.EntityType `json:"entity"`
	Stores        []int64          `json:"stores"`
	RowsDeleted   int64            `json:"rows_deleted"`
	FlagsCleared  int64            `json:"flags_cleared"`
	JobsCancelled int64            `json:"jobs_cancelled"`
}

// ResetSync 删除店铺的同步记录、清除同步标记、取消待执行的调度任务
// storeID 为 nil 时处理所有店铺
func (s *ResetService) ResetSync(ctx context.Context, entity model.EntityType, storeID *int64) (*ResetReport, error) {
	if _, err := s.registry.Get(entity); err != nil {
		return nil, err
	}
	stores, err := s.targetStores(ctx, entity, storeID)
	if err != nil {
		return nil, err
	}

	report := &ResetReport{Entity: entity, Stores: stores}
	for _, sid := range stores {
		release, ok := s.guard.TryAcquire(entity, sid)
		if !ok {
			return report, fmt.Errorf("%w: %s/%d", ErrStoreBusy, entity, sid)
		}
		n, flagsCleared, err := s.resetStore(ctx, entity, sid)
		release()
		if err != nil {
			return report, err
		}
		report.RowsDeleted += n
		report.FlagsCleared += flagsCleared
	}

	cancelled, err := s.jobs.CancelPending(ctx, entity.JobCode(), storeID)
	if err != nil {
		return report, fmt.Errorf("取消待执行任务失败: %w", err)
	}
	report.JobsCancelled = cancelled

	s.log.Info("同步状态已重置",
		zap.String("entity", string(entity)),
		zap.Int64s("stores", stores),
		zap.Int64("rows", report.RowsDeleted),
		zap.Int64("flags", report.FlagsCleared),
		zap.Int64("jobs", cancelled))
	return report, nil
}

func (s *ResetService) resetStore(ctx context.Context, entity model.EntityType, storeID int64) (int64, int64, error) {
	var (
		n   int64
		err error
	)
	if entity == model.EntityMembership {
		n, err = s.members.DeleteByStore(ctx, storeID)
	} else {
		n, err = s.records.DeleteByStore(ctx, entity, storeID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("删除店铺 %d 同步记录失败: %w", storeID, err)
	}
	cleared, err := s.flags.ClearStore(ctx, entity, storeID)
	if err != nil {
		return n, 0, fmt.Errorf("清除店铺 %d 同步标记失败: %w", storeID, err)
	}
	s.cache.PurgeStore(storeID)
	return n, cleared, nil
}

// targetStores 指定店铺，或 活跃店铺 ∪ 已有同步记录的店铺
func (s *ResetService) targetStores(ctx context.Context, entity model.EntityType, storeID *int64) ([]int64, error) {
	if storeID != nil {
		return []int64{*storeID}, nil
	}
	set := make(map[int64]bool)
	active, err := s.stores.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range active {
		set[st.ID] = true
	}
	var ids []int64
	if entity == model.EntityMembership {
		ids, err = s.members.StoreIDs(ctx)
	} else {
		ids, err = s.records.StoreIDs(ctx, entity)
	}
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		set[id] = true
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out, nil
}

// RetryFailed 响应码 >= 400 的记录按店铺分组，交给正常处理器只处理这些 ID
func (s *ResetService) RetryFailed(ctx context.Context, entity model.EntityType) ([]*RunSummary, error) {
	proc, err := s.registry.Get(entity)
	if err != nil {
		return nil, err
	}
	var failed map[int64][]int64
	if entity == model.EntityMembership {
		failed, err = s.members.ListFailed(ctx, repository.FailedThreshold)
	} else {
		failed, err = s.records.ListFailed(ctx, entity, repository.FailedThreshold)
	}
	if err != nil {
		return nil, fmt.Errorf("读取失败记录失败: %w", err)
	}

	stores := make([]int64, 0, len(failed))
	for sid := range failed {
		stores = append(stores, sid)
	}
	sortIDs(stores)

	var out []*RunSummary
	for _, sid := range stores {
		release, ok := s.guard.TryAcquire(entity, sid)
		if !ok {
			s.log.Warn("店铺同步正在运行，跳过重试", zap.String("entity", string(entity)), zap.Int64("store_id", sid))
			continue
		}
		sum, err := proc.Run(ctx, sid, failed[sid])
		release()
		if err != nil {
			return out, fmt.Errorf("重试店铺 %d 失败: %w", sid, err)
		}
		out = append(out, sum)
	}
	s.log.Info("失败记录重试完成", zap.String("entity", string(entity)), zap.Int("stores", len(out)))
	return out, nil
}

// Status 同步统计，storeID 为 nil 时统计所有活跃店铺
func (s *ResetService) Status(ctx context.Context, storeID *int64) ([]*repository.SyncStats, error) {
	var stores []int64
	if storeID != nil {
		stores = []int64{*storeID}
	} else {
		active, err := s.stores.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		for _, st := range active {
			stores = append(stores, st.ID)
		}
	}

	var out []*repository.SyncStats
	for _, sid := range stores {
		for _, entity := range model.AllEntityTypes {
			var (
				st  *repository.SyncStats
				err error
			)
			if entity == model.EntityMembership {
				st, err = s.members.Stats(ctx, sid)
			} else {
				st, err = s.records.Stats(ctx, entity, sid)
			}
			if err != nil {
				return nil, fmt.Errorf("统计店铺 %d %s 失败: %w", sid, entity, err)
			}
			out = append(out, st)
		}
	}
	return out, nil
}
