package service

import (
	"context"
	"fmt"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/logger"
	"storesync_v1/pkg/net"

	"go.uber.org/zap"
)

// ==================== MembershipService 集合成员同步 ====================

// MembershipService 分类↔商品成员关系的添加与移除
// 任一侧远端 ID 未知时，先同步触发该侧的按需同步
type MembershipService struct {
	members    repository.MembershipRepository
	records    repository.SyncRecordRepository
	catalog    repository.CatalogRepository
	stores     repository.StoreRepository
	cfg        *StoreConfigService
	gateway    Gateway
	products   ProductSyncer
	categories CategorySyncer
	opts       ProcessorOptions
	log        *zap.Logger
}

var (
	_ Processor            = (*MembershipService)(nil)
	_ MembershipReconciler = (*MembershipService)(nil)
	_ CategoryCascade      = (*MembershipService)(nil)
)

func NewMembershipService(
	members repository.MembershipRepository,
	records repository.SyncRecordRepository,
	catalog repository.CatalogRepository,
	stores repository.StoreRepository,
	cfg *StoreConfigService,
	gateway Gateway,
	products ProductSyncer,
	categories CategorySyncer,
	opts ProcessorOptions,
	log *zap.Logger,
) *MembershipService {
	return &MembershipService{
		members:    members,
		records:    records,
		catalog:    catalog,
		stores:     stores,
		cfg:        cfg,
		gateway:    gateway,
		products:   products,
		categories: categories,
		opts:       opts.withDefaults(),
		log:        log.Named("membership"),
	}
}

func (s *MembershipService) Entity() model.EntityType {
	return model.EntityMembership
}

// Run ids 为成员关系行 ID
func (s *MembershipService) Run(ctx context.Context, storeID int64, ids []int64) (*RunSummary, error) {
	log, runID := logger.WithRun(s.log, string(model.EntityMembership), storeID)
	sum := newSummary(model.EntityMembership, storeID, runID)

	terminal, err := s.cfg.TerminalCodes(ctx, storeID)
	if err != nil {
		return nil, err
	}

	forced := len(ids) > 0
	var rows []model.CollectionMembership
	if !forced {
		if err := s.rebuild(ctx, log, storeID); err != nil {
			return nil, err
		}
		rows, err = s.members.ListPending(ctx, storeID, s.opts.BatchSize)
	} else {
		rows, err = s.members.GetByIDs(ctx, storeID, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("读取成员关系失败: %w", err)
	}
	sum.Selected = len(rows)

	var retry []model.CollectionMembership
	for i := range rows {
		row := rows[i]
		var step itemStep
		ok := guard(log, sum, "membership", row.ID, func() error {
			var err error
			step, err = s.syncOne(ctx, log, sum, storeID, &row, terminal, forced)
			return err
		})
		if !ok {
			continue
		}
		switch step {
		case stepRecoverable:
			retry = append(retry, row)
		case stepFailed:
			sum.Failed++
		}
	}
	for i := range retry {
		row := retry[i]
		sum.Retried++
		var step itemStep
		ok := guard(log, sum, "membership", row.ID, func() error {
			var err error
			step, err = s.syncOne(ctx, log, sum, storeID, &row, terminal, forced)
			return err
		})
		if ok && step != stepDone {
			sum.Failed++
		}
	}

	sum.finish()
	log.Info("成员关系同步完成", sum.fields()...)
	return sum, nil
}

// syncOne forced 为 true (显式指定 ID) 时，终止码置位的行也重新发送
func (s *MembershipService) syncOne(ctx context.Context, log *zap.Logger, sum *RunSummary, storeID int64, row *model.CollectionMembership, terminal TerminalSet, forced bool) (itemStep, error) {
	if row.IsDeletedRemote || (row.Synced && !forced) {
		sum.Skipped++
		return stepDone, nil
	}
	if row.IsDeleted {
		return s.remove(ctx, log, sum, storeID, row, terminal)
	}
	return s.add(ctx, log, sum, storeID, row, terminal)
}

// add POST collections/{id}/products，409 视为已存在
func (s *MembershipService) add(ctx context.Context, log *zap.Logger, sum *RunSummary, storeID int64, row *model.CollectionMembership, terminal TerminalSet) (itemStep, error) {
	collectionID, err := s.ensureCategory(ctx, storeID, row.CategoryID)
	if err != nil {
		return stepFailed, err
	}
	productID, err := s.ensureProduct(ctx, storeID, row.ProductID)
	if err != nil {
		return stepFailed, err
	}
	if collectionID == "" || productID == "" {
		sum.Deferred++
		log.Info("成员关系一侧尚无远端 ID，等待下次运行",
			zap.Int64("category_id", row.CategoryID), zap.Int64("product_id", row.ProductID))
		return stepDone, nil
	}

	path := collectionResource.item(collectionID) + "/products"
	res := s.gateway.Sync(ctx, storeID, net.MethodPost, path, membershipBody(productID), nil)
	done := false
	switch res.Outcome().(type) {
	case net.Success, net.Conflict:
		done = true
		// 远端 ID 只在添加成功后记录，移除时据此判断是否需要远端调用
		row.RemoteCollectionID = model.StrPtr(collectionID)
		row.RemoteProductID = model.StrPtr(productID)
	}
	step, err := s.persist(ctx, log, row, res, done, terminal)
	if err == nil && done {
		sum.Succeeded++
	}
	return step, err
}

// remove DELETE collections/{id}/products，404 视为已移除
// 从未成功添加的行直接完成
func (s *MembershipService) remove(ctx context.Context, log *zap.Logger, sum *RunSummary, storeID int64, row *model.CollectionMembership, terminal TerminalSet) (itemStep, error) {
	if row.RemoteCollectionID == nil || row.RemoteProductID == nil {
		row.IsDeletedRemote = true
		row.Synced = true
		sum.Deleted++
		return stepDone, s.members.Save(ctx, row)
	}

	path := collectionResource.item(*row.RemoteCollectionID) + "/products"
	res := s.gateway.Sync(ctx, storeID, net.MethodDelete, path, membershipBody(*row.RemoteProductID), nil)
	done := false
	switch res.Outcome().(type) {
	case net.Success, net.NotFound:
		done = true
		row.IsDeletedRemote = true
	}
	step, err := s.persist(ctx, log, row, res, done, terminal)
	if err == nil && done {
		sum.Deleted++
	}
	return step, err
}

func (s *MembershipService) persist(ctx context.Context, log *zap.Logger, row *model.CollectionMembership, res net.Result, done bool, terminal TerminalSet) (itemStep, error) {
	now := time.Now()
	row.ResponseCode = res.Code()
	row.SyncedAt = &now
	row.Synced = done || terminal.Contains(res.Code())
	if err := s.members.Save(ctx, row); err != nil {
		return stepFailed, fmt.Errorf("保存成员关系失败: %w", err)
	}
	switch {
	case done:
		return stepDone, nil
	case isRecoverable(res):
		log.Warn("成员关系可恢复失败", zap.Int64("id", row.ID), zap.Stringer("result", res))
		return stepRecoverable, nil
	default:
		log.Warn("成员关系同步失败", zap.Int64("id", row.ID), zap.Stringer("result", res))
		return stepFailed, nil
	}
}

func membershipBody(remoteProductID string) map[string]interface{} {
	return map[string]interface{}{"product": map[string]interface{}{"id": remoteProductID}}
}

// ==================== 远端 ID 依赖解析 ====================

func (s *MembershipService) ensureCategory(ctx context.Context, storeID, categoryID int64) (string, error) {
	rec, err := s.records.Get(ctx, model.EntityCategory, categoryID, storeID)
	if err != nil {
		return "", err
	}
	if rec.HasRemote() {
		return rec.Remote(), nil
	}
	if s.categories == nil {
		return "", nil
	}
	if err := s.categories.SyncCategories(ctx, storeID, []int64{categoryID}); err != nil {
		return "", fmt.Errorf("按需同步分类 %d 失败: %w", categoryID, err)
	}
	rec, err = s.records.Get(ctx, model.EntityCategory, categoryID, storeID)
	if err != nil {
		return "", err
	}
	return rec.Remote(), nil
}

// ensureProduct 只接受根商品的远端 ID
func (s *MembershipService) ensureProduct(ctx context.Context, storeID, productID int64) (string, error) {
	rootID := func(rec *model.SyncRecord) string {
		if rec == nil || rec.IsDeleted || rec.RemoteParent() != "" {
			return ""
		}
		return rec.Remote()
	}
	rec, err := s.records.Get(ctx, model.EntityProduct, productID, storeID)
	if err != nil {
		return "", err
	}
	if id := rootID(rec); id != "" {
		return id, nil
	}
	if s.products == nil {
		return "", nil
	}
	if err := s.products.SyncProducts(ctx, storeID, []int64{productID}); err != nil {
		return "", fmt.Errorf("按需同步商品 %d 失败: %w", productID, err)
	}
	rec, err = s.records.Get(ctx, model.EntityProduct, productID, storeID)
	if err != nil {
		return "", err
	}
	return rootID(rec), nil
}

// ==================== 成员关系核对 ====================

type membershipKey struct {
	CategoryID int64
	ProductID  int64
}

// rebuild 以本地分类-商品关系为准核对成员关系表
func (s *MembershipService) rebuild(ctx context.Context, log *zap.Logger, storeID int64) error {
	rootPath, err := storeRootPath(ctx, s.stores, s.catalog, storeID)
	if err != nil {
		return err
	}
	if rootPath == "" {
		return nil
	}
	pairs, err := s.catalog.CategoryPairsInStore(ctx, storeID, rootPath)
	if err != nil {
		return fmt.Errorf("读取分类商品关系失败: %w", err)
	}
	rows, err := s.members.ListByStore(ctx, storeID)
	if err != nil {
		return err
	}
	want := make(map[membershipKey]bool, len(pairs))
	for _, p := range pairs {
		want[membershipKey{p.CategoryID, p.ProductID}] = true
	}
	return s.diff(ctx, log, storeID, want, rows)
}

// ReconcileProduct 根商品同步成功后核对其成员关系
func (s *MembershipService) ReconcileProduct(ctx context.Context, storeID, productID int64) error {
	rootPath, err := storeRootPath(ctx, s.stores, s.catalog, storeID)
	if err != nil || rootPath == "" {
		return err
	}
	catIDs, err := s.catalog.CategoryIDsOfProduct(ctx, productID, rootPath)
	if err != nil {
		return err
	}
	rows, err := s.members.ListByProduct(ctx, storeID, productID)
	if err != nil {
		return err
	}
	want := make(map[membershipKey]bool, len(catIDs))
	for _, id := range catIDs {
		want[membershipKey{id, productID}] = true
	}
	return s.diff(ctx, s.log, storeID, want, rows)
}

// diff 新增的插入待添加，被移除的置删除
// 删除标记不回退：重新加入的键删除旧行后以新行重新添加，远端 409 视为成功
func (s *MembershipService) diff(ctx context.Context, log *zap.Logger, storeID int64, want map[membershipKey]bool, rows []model.CollectionMembership) error {
	have := make(map[membershipKey]*model.CollectionMembership, len(rows))
	var drop, readd []int64
	for i := range rows {
		row := &rows[i]
		key := membershipKey{row.CategoryID, row.ProductID}
		have[key] = row
		switch {
		case !want[key] && !row.IsDeleted:
			drop = append(drop, row.ID)
		case want[key] && row.IsDeleted:
			readd = append(readd, row.ID)
		}
	}

	var add []model.CollectionMembership
	for key := range want {
		if _, ok := have[key]; !ok {
			add = append(add, model.CollectionMembership{
				CategoryID: key.CategoryID,
				ProductID:  key.ProductID,
				StoreID:    storeID,
			})
		}
	}
	if err := s.members.InsertPending(ctx, add); err != nil {
		return fmt.Errorf("插入成员关系失败: %w", err)
	}
	if _, err := s.members.MarkDeleted(ctx, drop); err != nil {
		return fmt.Errorf("标记成员关系删除失败: %w", err)
	}
	if _, err := s.members.Recreate(ctx, readd); err != nil {
		return fmt.Errorf("重建成员关系失败: %w", err)
	}
	if len(add)+len(drop)+len(readd) > 0 {
		log.Info("成员关系已核对",
			zap.Int("added", len(add)), zap.Int("dropped", len(drop)), zap.Int("readded", len(readd)))
	}
	return nil
}

// RemoveForCategory 分类删除时立即处理其成员关系移除
func (s *MembershipService) RemoveForCategory(ctx context.Context, storeID, categoryID int64) error {
	rows, err := s.members.ListByCategory(ctx, storeID, categoryID)
	if err != nil {
		return err
	}
	terminal, err := s.cfg.TerminalCodes(ctx, storeID)
	if err != nil {
		return err
	}
	sum := newSummary(model.EntityMembership, storeID, "")
	for i := range rows {
		row := rows[i]
		if !row.IsDeleted || row.IsDeletedRemote {
			continue
		}
		guard(s.log, sum, "membership_remove", row.ID, func() error {
			_, err := s.remove(ctx, s.log, sum, storeID, &row, terminal)
			return err
		})
	}
	return nil
}
