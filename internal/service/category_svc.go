package service

import (
	"context"
	"fmt"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/logger"
	"storesync_v1/pkg/utils"

	"go.uber.org/zap"
)

// CategoryCascade 分类删除时的成员关系级联
type CategoryCascade interface {
	RemoveForCategory(ctx context.Context, storeID, categoryID int64) error
}

// ==================== CategoryService 分类/集合同步 ====================

type CategoryService struct {
	records repository.SyncRecordRepository
	flags   repository.FlagRepository
	members repository.MembershipRepository
	catalog repository.CatalogRepository
	stores  repository.StoreRepository
	cfg     *StoreConfigService
	gateway Gateway
	adapter *CategoryDataAdapter
	cascade CategoryCascade
	opts    ProcessorOptions
	log     *zap.Logger
}

var (
	_ Processor      = (*CategoryService)(nil)
	_ CategorySyncer = (*CategoryService)(nil)
)

func NewCategoryService(
	records repository.SyncRecordRepository,
	flags repository.FlagRepository,
	members repository.MembershipRepository,
	catalog repository.CatalogRepository,
	stores repository.StoreRepository,
	cfg *StoreConfigService,
	gateway Gateway,
	cache *utils.StoreCache,
	opts ProcessorOptions,
	log *zap.Logger,
) *CategoryService {
	return &CategoryService{
		records: records,
		flags:   flags,
		members: members,
		catalog: catalog,
		stores:  stores,
		cfg:     cfg,
		gateway: gateway,
		adapter: NewCategoryDataAdapter(catalog, cache),
		opts:    opts.withDefaults(),
		log:     log.Named("category"),
	}
}

// SetCascade 注入成员关系移除
func (s *CategoryService) SetCascade(c CategoryCascade) {
	s.cascade = c
}

func (s *CategoryService) Entity() model.EntityType {
	return model.EntityCategory
}

// SyncCategories 按需同步指定分类
func (s *CategoryService) SyncCategories(ctx context.Context, storeID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.Run(ctx, storeID, ids)
	return err
}

func (s *CategoryService) Run(ctx context.Context, storeID int64, ids []int64) (*RunSummary, error) {
	log, runID := logger.WithRun(s.log, string(model.EntityCategory), storeID)
	sum := newSummary(model.EntityCategory, storeID, runID)

	rootPath, err := storeRootPath(ctx, s.stores, s.catalog, storeID)
	if err != nil {
		return nil, err
	}
	if rootPath == "" {
		log.Warn("店铺未配置根分类，跳过分类同步")
		return sum.finish(), nil
	}
	terminal, err := s.cfg.TerminalCodes(ctx, storeID)
	if err != nil {
		return nil, err
	}

	forced := len(ids) > 0
	var cats []model.Category
	if !forced {
		if err := s.sweep(ctx, log, sum, storeID, rootPath); err != nil {
			return nil, err
		}
		cats, err = s.catalog.ListCategoryCandidates(ctx, storeID, rootPath, s.opts.BatchSize)
	} else {
		cats, err = s.catalog.GetCategories(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("读取候选分类失败: %w", err)
	}
	sum.Selected = len(cats)
	if len(cats) == 0 {
		return sum.finish(), nil
	}
	s.adapter.Remember(storeID, cats)

	catIDs := make([]int64, 0, len(cats))
	for _, c := range cats {
		catIDs = append(catIDs, c.ID)
	}
	records, err := s.records.GetMany(ctx, model.EntityCategory, storeID, catIDs)
	if err != nil {
		return nil, fmt.Errorf("读取同步记录失败: %w", err)
	}
	flagged, err := s.flags.SyncedSet(ctx, model.EntityCategory, storeID, catIDs)
	if err != nil {
		return nil, fmt.Errorf("读取同步标记失败: %w", err)
	}

	// 本地同步状态丢失时先按外部 ID 批量查找，避免远端重复创建
	var unknown []string
	for _, c := range cats {
		if !records[c.ID].HasRemote() {
			unknown = append(unknown, idString(c.ID))
		}
	}
	existing := map[string]string{}
	if len(unknown) > 0 {
		found, res := lookupRemote(ctx, s.gateway, storeID, collectionResource, unknown)
		if !res.IsSuccess {
			log.Warn("批量查询远端集合失败，按新建处理", zap.Stringer("result", res))
		}
		existing = found
	}

	run := &categoryRun{
		svc:      s,
		storeID:  storeID,
		rootPath: rootPath,
		log:      log,
		sum:      sum,
		terminal: terminal,
		records:  records,
		existing: existing,
	}

	var retry []model.Category
	for i := range cats {
		c := cats[i]
		elig := DecideEligibility(records[c.ID], flagged[c.ID], forced)
		if !elig.CanSync() {
			sum.Skipped++
			continue
		}
		var step itemStep
		ok := guard(log, sum, "category", c.ID, func() error {
			var err error
			step, err = run.syncOne(ctx, &c)
			return err
		})
		if !ok {
			continue
		}
		switch step {
		case stepRecoverable:
			retry = append(retry, c)
		case stepFailed:
			sum.Failed++
		}
	}

	// 可恢复失败在本次运行内再试一次
	for i := range retry {
		c := retry[i]
		sum.Retried++
		var step itemStep
		ok := guard(log, sum, "category", c.ID, func() error {
			var err error
			step, err = run.syncOne(ctx, &c)
			return err
		})
		if ok && step != stepDone {
			sum.Failed++
		}
	}

	sum.finish()
	log.Info("分类同步完成", sum.fields()...)
	return sum, nil
}

type categoryRun struct {
	svc      *CategoryService
	storeID  int64
	rootPath string
	log      *zap.Logger
	sum      *RunSummary
	terminal TerminalSet
	records  map[int64]*model.SyncRecord
	existing map[string]string
}

func (r *categoryRun) syncOne(ctx context.Context, c *model.Category) (itemStep, error) {
	rec := r.records[c.ID]
	if rec == nil {
		rec = &model.SyncRecord{LocalID: c.ID, StoreID: r.storeID}
	}
	oldRemote := rec.Remote()
	remoteID := oldRemote
	if remoteID == "" {
		remoteID = r.existing[idString(c.ID)]
	}

	payload, err := r.svc.adapter.Payload(ctx, r.storeID, c, r.rootPath)
	if err != nil {
		return stepFailed, err
	}
	res := upsertRemote(ctx, r.svc.gateway, r.storeID, collectionResource, idString(c.ID), remoteID, payload)

	applyResult(rec, res.Result)
	rec.RemoteID = model.StrPtr(res.RemoteID)
	if err := r.svc.records.Save(ctx, model.EntityCategory, rec); err != nil {
		return stepFailed, fmt.Errorf("保存同步记录失败: %w", err)
	}
	r.records[c.ID] = rec

	if shouldFlag(res.Result, r.terminal) {
		if err := r.svc.flags.SetSynced(ctx, model.EntityCategory, r.storeID, []int64{c.ID}, true); err != nil {
			return stepFailed, err
		}
	}

	switch {
	case res.IsSuccess:
		r.sum.Succeeded++
		// 已存在的分类更新后，后代的完整路径名称随之变化
		if oldRemote != "" {
			if err := r.requeueDescendants(ctx, c); err != nil {
				r.log.Warn("后代分类重新排队失败", zap.Int64("category_id", c.ID), zap.Error(err))
			}
		}
		return stepDone, nil
	case isRecoverable(res.Result):
		r.log.Warn("分类同步可恢复失败", zap.Int64("category_id", c.ID), zap.Stringer("result", res.Result))
		return stepRecoverable, nil
	default:
		r.log.Warn("分类同步失败", zap.Int64("category_id", c.ID), zap.Stringer("result", res.Result))
		return stepFailed, nil
	}
}

func (r *categoryRun) requeueDescendants(ctx context.Context, c *model.Category) error {
	ids, err := r.svc.catalog.DescendantIDs(ctx, c.Path)
	if err != nil || len(ids) == 0 {
		return err
	}
	return r.svc.flags.SetSynced(ctx, model.EntityCategory, r.storeID, ids, false)
}

// ==================== 删除级联 ====================

// sweep 已删除的分类先移除其成员关系，全部移除后才标记远端删除
// 远端集合本身不做删除调用
func (s *CategoryService) sweep(ctx context.Context, log *zap.Logger, sum *RunSummary, storeID int64, rootPath string) error {
	n, err := s.records.FlagOrphans(ctx, model.EntityCategory, storeID, repository.OrphanScope{RootCategoryPath: rootPath})
	if err != nil {
		return fmt.Errorf("标记已删除分类失败: %w", err)
	}
	if n > 0 {
		log.Info("标记本地已删除的分类", zap.Int64("count", n))
	}

	pending, err := s.records.ListDeletePending(ctx, model.EntityCategory, storeID, s.opts.SweepLimit)
	if err != nil {
		return fmt.Errorf("读取待删除分类失败: %w", err)
	}
	for i := range pending {
		rec := pending[i]
		guard(log, sum, "category_delete", rec.LocalID, func() error {
			if _, err := s.members.MarkDeletedForCategory(ctx, storeID, rec.LocalID); err != nil {
				return err
			}
			if s.cascade != nil {
				if err := s.cascade.RemoveForCategory(ctx, storeID, rec.LocalID); err != nil {
					return err
				}
			}
			open, err := s.members.CountOpenDeletes(ctx, storeID, rec.LocalID)
			if err != nil {
				return err
			}
			if open > 0 {
				log.Info("分类仍有未移除的成员，等待下次运行",
					zap.Int64("category_id", rec.LocalID), zap.Int64("open", open))
				return nil
			}
			rec.IsDeletedRemote = true
			sum.Deleted++
			return s.records.Save(ctx, model.EntityCategory, &rec)
		})
	}
	return nil
}
