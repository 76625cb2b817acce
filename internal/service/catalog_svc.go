package service

import (
	"context"
	"fmt"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/logger"
	"storesync_v1/pkg/net"

	"go.uber.org/zap"
)

// maxCatalogPasses 首轮 + 延后的子商品 / 可恢复失败各最多再处理一次
const maxCatalogPasses = 3

// MembershipReconciler 根商品同步后核对其分类成员关系
type MembershipReconciler interface {
	ReconcileProduct(ctx context.Context, storeID, productID int64) error
}

// ==================== CatalogService 商品/变体同步 ====================

type CatalogService struct {
	records repository.SyncRecordRepository
	flags   repository.FlagRepository
	catalog repository.CatalogRepository
	stores  repository.StoreRepository
	cfg     *StoreConfigService
	gateway Gateway
	adapter *ProductDataAdapter
	members MembershipReconciler
	opts    ProcessorOptions
	log     *zap.Logger
}

var (
	_ Processor     = (*CatalogService)(nil)
	_ ProductSyncer = (*CatalogService)(nil)
)

func NewCatalogService(
	records repository.SyncRecordRepository,
	flags repository.FlagRepository,
	catalog repository.CatalogRepository,
	stores repository.StoreRepository,
	cfg *StoreConfigService,
	gateway Gateway,
	opts ProcessorOptions,
	log *zap.Logger,
) *CatalogService {
	return &CatalogService{
		records: records,
		flags:   flags,
		catalog: catalog,
		stores:  stores,
		cfg:     cfg,
		gateway: gateway,
		adapter: NewProductDataAdapter(),
		opts:    opts.withDefaults(),
		log:     log.Named("catalog"),
	}
}

// SetMembershipReconciler 成员关系服务依赖本服务，构建完成后再注入
func (s *CatalogService) SetMembershipReconciler(m MembershipReconciler) {
	s.members = m
}

func (s *CatalogService) Entity() model.EntityType {
	return model.EntityProduct
}

// SyncProducts 按需同步指定商品 (订单 / 成员关系触发)
func (s *CatalogService) SyncProducts(ctx context.Context, storeID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.Run(ctx, storeID, ids)
	return err
}

// Run 单店铺一次批处理
// ids 为空：先执行删除/解除关联清理，再按候选规则选批次
// ids 非空：只处理这些商品，视为显式指定
func (s *CatalogService) Run(ctx context.Context, storeID int64, ids []int64) (*RunSummary, error) {
	log, runID := logger.WithRun(s.log, string(model.EntityProduct), storeID)
	sum := newSummary(model.EntityProduct, storeID, runID)

	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("查询店铺 %d 失败: %w", storeID, err)
	}
	terminal, err := s.cfg.TerminalCodes(ctx, storeID)
	if err != nil {
		return nil, err
	}
	mc, err := BuildMappingContext(ctx, s.cfg, store, s.adapter.Mappings())
	if err != nil {
		return nil, fmt.Errorf("构建字段映射失败: %w", err)
	}

	r := &catalogRun{
		svc:      s,
		storeID:  storeID,
		log:      log,
		sum:      sum,
		terminal: terminal,
		mc:       mc,
		forced:   len(ids) > 0,
		records:  make(map[int64]*model.SyncRecord),
		flagged:  make(map[int64]bool),
		inStore:  make(map[int64]bool),
		parents:  make(map[int64][]model.Product),
		deferred: make(map[int64]bool),
		retried:  make(map[int64]bool),
		handled:  make(map[int64]bool),
	}

	var products []model.Product
	if len(ids) == 0 {
		if err := r.sweep(ctx); err != nil {
			return nil, err
		}
		products, err = s.catalog.ListProductCandidates(ctx, storeID, s.opts.BatchSize)
	} else {
		products, err = s.catalog.GetProducts(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("读取候选商品失败: %w", err)
	}
	sum.Selected = len(products)
	log.Info("开始同步商品", zap.Int("selected", len(products)), zap.Bool("forced", r.forced))

	if err := r.process(ctx, products); err != nil {
		return nil, err
	}

	sum.finish()
	log.Info("商品同步完成", sum.fields()...)
	return sum, nil
}

// ==================== 单次运行状态 ====================

type itemStep int

const (
	stepDone itemStep = iota
	stepDeferred
	stepRecoverable
	stepFailed
)

// catalogRun 单次运行内的上下文，运行结束即丢弃
type catalogRun struct {
	svc      *CatalogService
	storeID  int64
	log      *zap.Logger
	sum      *RunSummary
	terminal TerminalSet
	mc       *MappingContext
	forced   bool

	records map[int64]*model.SyncRecord
	flagged map[int64]bool
	inStore map[int64]bool
	parents map[int64][]model.Product

	deferred map[int64]bool
	retried  map[int64]bool
	handled  map[int64]bool
}

// process 有界迭代：每个商品最多延后一次、可恢复失败最多重试一次
func (r *catalogRun) process(ctx context.Context, queue []model.Product) error {
	for pass := 0; pass < maxCatalogPasses && len(queue) > 0; pass++ {
		if err := r.load(ctx, queue); err != nil {
			return err
		}
		var next []model.Product
		var promoted []model.Product
		for i := range queue {
			p := queue[i]
			if r.handled[p.ID] {
				continue
			}
			var step itemStep
			ok := guard(r.log, r.sum, "product", p.ID, func() error {
				var err error
				step, err = r.syncOne(ctx, &p, &promoted)
				return err
			})
			if !ok {
				r.handled[p.ID] = true
				continue
			}
			switch step {
			case stepDeferred:
				r.sum.Deferred++
				next = append(next, p)
			case stepRecoverable:
				if r.retried[p.ID] {
					r.sum.Failed++
					r.handled[p.ID] = true
					continue
				}
				r.retried[p.ID] = true
				r.sum.Retried++
				next = append(next, p)
			case stepFailed:
				r.sum.Failed++
				r.handled[p.ID] = true
			default:
				r.handled[p.ID] = true
			}
		}
		// 被延后子商品需要的父商品排在下一轮最前面
		queue = append(promoted, next...)
	}
	return nil
}

// load 批量加载本轮商品及其父商品的同步状态
func (r *catalogRun) load(ctx context.Context, queue []model.Product) error {
	ids := make([]int64, 0, len(queue))
	for _, p := range queue {
		ids = append(ids, p.ID)
	}
	links, err := r.svc.catalog.ParentLinks(ctx, ids)
	if err != nil {
		return fmt.Errorf("查询父商品关系失败: %w", err)
	}
	all := append([]int64{}, ids...)
	for child, parents := range links {
		r.parents[child] = parents
		for _, p := range parents {
			all = append(all, p.ID)
		}
	}

	recs, err := r.svc.records.GetMany(ctx, model.EntityProduct, r.storeID, all)
	if err != nil {
		return fmt.Errorf("读取同步记录失败: %w", err)
	}
	for id, rec := range recs {
		r.records[id] = rec
	}
	flagged, err := r.svc.flags.SyncedSet(ctx, model.EntityProduct, r.storeID, all)
	if err != nil {
		return fmt.Errorf("读取同步标记失败: %w", err)
	}
	for _, id := range all {
		r.flagged[id] = flagged[id]
	}
	inStore, err := r.svc.catalog.ProductsInStore(ctx, r.storeID, all)
	if err != nil {
		return fmt.Errorf("读取店铺商品分配失败: %w", err)
	}
	for _, id := range all {
		r.inStore[id] = inStore[id]
	}
	return nil
}

// parentOf 店铺内第一个可用父商品
func (r *catalogRun) parentOf(p *model.Product) *model.Product {
	if p.IsParentType() {
		return nil
	}
	for i := range r.parents[p.ID] {
		parent := r.parents[p.ID][i]
		if r.inStore[parent.ID] {
			return &parent
		}
	}
	return nil
}

// parentRemote 父商品的远端 ID：只接受已同步的根商品
func (r *catalogRun) parentRemote(parentID int64) string {
	rec := r.records[parentID]
	if rec == nil || rec.IsDeleted || rec.PendingUnassign() || rec.RemoteParent() != "" {
		return ""
	}
	return rec.Remote()
}

func (r *catalogRun) syncOne(ctx context.Context, p *model.Product, promoted *[]model.Product) (itemStep, error) {
	if !r.inStore[p.ID] {
		r.sum.Skipped++
		r.log.Debug("商品未分配到店铺，跳过", zap.Int64("product_id", p.ID))
		return stepDone, nil
	}

	rec := r.records[p.ID]
	elig := DecideEligibility(rec, r.flagged[p.ID], r.forced)
	if !elig.CanSync() {
		r.sum.Skipped++
		r.log.Debug("不满足同步条件", zap.Int64("product_id", p.ID), zap.Stringer("reason", elig))
		return stepDone, nil
	}
	if rec == nil {
		rec = &model.SyncRecord{LocalID: p.ID, StoreID: r.storeID}
	}

	parent := r.parentOf(p)
	parentRemote := ""
	if parent != nil {
		parentRemote = r.parentRemote(parent.ID)
		if parentRemote == "" && !r.deferred[p.ID] {
			r.deferred[p.ID] = true
			if !r.handled[parent.ID] && DecideEligibility(r.records[parent.ID], r.flagged[parent.ID], false).CanSync() {
				*promoted = append(*promoted, *parent)
			}
			r.log.Info("父商品尚无远端 ID，延后处理",
				zap.Int64("product_id", p.ID), zap.Int64("parent_id", parent.ID))
			return stepDeferred, nil
		}
		if parentRemote == "" {
			r.log.Warn("父商品仍无远端 ID，按独立商品同步",
				zap.Int64("product_id", p.ID), zap.Int64("parent_id", parent.ID))
		}
	}

	// 已作为变体挂在其他父商品下 (或已不再是变体)：先解除关联，下次运行重新创建
	if rec.HasRemote() && rec.RemoteParent() != "" && rec.RemoteParent() != parentRemote {
		r.sum.Skipped++
		return stepDone, r.queueUnassign(ctx, rec)
	}

	if parentRemote != "" {
		return r.syncVariant(ctx, p, rec, parentRemote)
	}
	return r.syncRoot(ctx, p, rec)
}

func (r *catalogRun) syncRoot(ctx context.Context, p *model.Product, rec *model.SyncRecord) (itemStep, error) {
	payload := r.svc.adapter.ProductPayload(p, r.mc)
	res := upsertRemote(ctx, r.svc.gateway, r.storeID, productResource, idString(p.ID), rec.Remote(), payload)

	applyResult(rec, res.Result)
	rec.RemoteID = model.StrPtr(res.RemoteID)
	rec.RemoteParentID = nil
	step, err := r.persist(ctx, p.ID, rec, res)
	if err != nil || !res.IsSuccess {
		return step, err
	}

	if r.svc.members != nil {
		if err := r.svc.members.ReconcileProduct(ctx, r.storeID, p.ID); err != nil {
			r.log.Warn("核对分类成员关系失败", zap.Int64("product_id", p.ID), zap.Error(err))
		}
	}
	if p.IsParentType() {
		if err := r.requeueChildren(ctx, p.ID, res.RemoteID); err != nil {
			r.log.Warn("子商品重新排队失败", zap.Int64("product_id", p.ID), zap.Error(err))
		}
	}
	return step, nil
}

func (r *catalogRun) syncVariant(ctx context.Context, p *model.Product, rec *model.SyncRecord, parentRemote string) (itemStep, error) {
	// 以前作为独立商品同步过：变体创建成功后下架旧的独立商品
	staleRoot := ""
	remoteID := rec.Remote()
	if rec.HasRemote() && rec.RemoteParent() == "" {
		staleRoot = remoteID
		remoteID = ""
	}

	payload := r.svc.adapter.VariantPayload(p, r.mc)
	res := upsertRemote(ctx, r.svc.gateway, r.storeID, variantResource(parentRemote), idString(p.ID), remoteID, payload)

	applyResult(rec, res.Result)
	if res.RemoteID != "" {
		rec.RemoteID = model.StrPtr(res.RemoteID)
		rec.RemoteParentID = model.StrPtr(parentRemote)
	} else if staleRoot == "" {
		rec.RemoteID = nil
		rec.RemoteParentID = nil
	}
	step, err := r.persist(ctx, p.ID, rec, res)
	if err != nil || !res.IsSuccess || staleRoot == "" {
		return step, err
	}

	dr := r.svc.gateway.Sync(ctx, r.storeID, net.MethodPatch, productResource.item(staleRoot), DiscontinuePayload(false), nil)
	switch dr.Outcome().(type) {
	case net.Success, net.NotFound:
		r.log.Info("已下架旧的独立商品", zap.Int64("product_id", p.ID), zap.String("remote_id", staleRoot))
	default:
		r.log.Warn("下架旧的独立商品失败", zap.Int64("product_id", p.ID), zap.String("remote_id", staleRoot), zap.Stringer("result", dr))
	}
	return step, nil
}

// persist 保存记录，按结果置位同步标记并返回处理步骤
func (r *catalogRun) persist(ctx context.Context, productID int64, rec *model.SyncRecord, res upsertResult) (itemStep, error) {
	if err := r.svc.records.Save(ctx, model.EntityProduct, rec); err != nil {
		return stepFailed, fmt.Errorf("保存同步记录失败: %w", err)
	}
	r.records[productID] = rec

	if shouldFlag(res.Result, r.terminal) {
		if err := r.svc.flags.SetSynced(ctx, model.EntityProduct, r.storeID, []int64{productID}, true); err != nil {
			return stepFailed, fmt.Errorf("置位同步标记失败: %w", err)
		}
		r.flagged[productID] = true
	}

	switch {
	case res.IsSuccess:
		r.sum.Succeeded++
		r.log.Debug("商品已同步", zap.Int64("product_id", productID),
			zap.String("remote_id", res.RemoteID), zap.Bool("reconciled", res.Reconciled))
		return stepDone, nil
	case isRecoverable(res.Result):
		r.log.Warn("商品同步可恢复失败", zap.Int64("product_id", productID), zap.Stringer("result", res.Result))
		return stepRecoverable, nil
	default:
		r.log.Warn("商品同步失败", zap.Int64("product_id", productID), zap.Stringer("result", res.Result))
		return stepFailed, nil
	}
}

// queueUnassign 把当前远端 ID 移入待解除关联
func (r *catalogRun) queueUnassign(ctx context.Context, rec *model.SyncRecord) error {
	rec.RemoteIDUnassign = model.StrPtr(rec.Remote())
	rec.RemoteID = nil
	if err := r.svc.records.Save(ctx, model.EntityProduct, rec); err != nil {
		return fmt.Errorf("保存解除关联记录失败: %w", err)
	}
	r.records[rec.LocalID] = rec
	if err := r.svc.flags.SetSynced(ctx, model.EntityProduct, r.storeID, []int64{rec.LocalID}, false); err != nil {
		return err
	}
	r.log.Info("变体父级已变化，排队解除关联", zap.Int64("product_id", rec.LocalID))
	return nil
}

// requeueChildren 父商品远端 ID 变化后，挂在旧 ID 下的子商品重新进入候选
func (r *catalogRun) requeueChildren(ctx context.Context, parentID int64, remoteID string) error {
	children, err := r.svc.catalog.ChildIDs(ctx, parentID)
	if err != nil || len(children) == 0 {
		return err
	}
	recs, err := r.svc.records.GetMany(ctx, model.EntityProduct, r.storeID, children)
	if err != nil {
		return err
	}
	var stale []int64
	for _, id := range children {
		rec := recs[id]
		if rec.HasRemote() && rec.RemoteParent() != remoteID {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return r.svc.flags.SetSynced(ctx, model.EntityProduct, r.storeID, stale, false)
}

// ==================== 删除 / 解除关联清理 ====================

// sweep 每店铺在 upsert 批次前执行一次
func (r *catalogRun) sweep(ctx context.Context) error {
	if n, err := r.svc.records.FlagOrphans(ctx, model.EntityProduct, r.storeID, repository.OrphanScope{}); err != nil {
		return fmt.Errorf("标记已删除商品失败: %w", err)
	} else if n > 0 {
		r.log.Info("标记本地已删除的商品", zap.Int64("count", n))
	}
	if err := r.detectDetachedVariants(ctx); err != nil {
		return err
	}
	if err := r.deleteRemote(ctx); err != nil {
		return err
	}
	return r.unassignVariants(ctx)
}

// detectDetachedVariants 父商品已删除或父子关系已不存在的变体排队解除关联
func (r *catalogRun) detectDetachedVariants(ctx context.Context) error {
	variants, err := r.svc.records.ListVariantRecords(ctx, model.EntityProduct, r.storeID)
	if err != nil {
		return fmt.Errorf("读取变体记录失败: %w", err)
	}
	if len(variants) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(variants))
	for _, v := range variants {
		ids = append(ids, v.LocalID)
	}
	links, err := r.svc.catalog.ParentLinks(ctx, ids)
	if err != nil {
		return err
	}

	for i := range variants {
		v := variants[i]
		parentRec, err := r.svc.records.FindByRemoteID(ctx, model.EntityProduct, r.storeID, v.RemoteParent())
		if err != nil {
			return err
		}
		attached := false
		if parentRec != nil && !parentRec.IsDeleted {
			for _, p := range links[v.LocalID] {
				if p.ID == parentRec.LocalID {
					attached = true
					break
				}
			}
		}
		if attached {
			continue
		}
		if err := r.queueUnassign(ctx, &v); err != nil {
			return err
		}
	}
	return nil
}

// deleteRemote 删除即下架：PATCH is_discontinued=true，404 也视为完成
func (r *catalogRun) deleteRemote(ctx context.Context) error {
	pending, err := r.svc.records.ListDeletePending(ctx, model.EntityProduct, r.storeID, r.svc.opts.SweepLimit)
	if err != nil {
		return fmt.Errorf("读取待删除记录失败: %w", err)
	}
	for i := range pending {
		rec := pending[i]
		guard(r.log, r.sum, "product_delete", rec.LocalID, func() error {
			if !rec.HasRemote() {
				rec.IsDeletedRemote = true
				r.sum.Deleted++
				return r.svc.records.Save(ctx, model.EntityProduct, &rec)
			}
			path := productResource.item(rec.Remote())
			variant := rec.RemoteParent() != ""
			if variant {
				path = variantResource(rec.RemoteParent()).item(rec.Remote())
			}
			res := r.svc.gateway.Sync(ctx, r.storeID, net.MethodPatch, path, DiscontinuePayload(variant), nil)
			applyResult(&rec, res)
			switch res.Outcome().(type) {
			case net.Success, net.NotFound:
				rec.IsDeletedRemote = true
				r.sum.Deleted++
			default:
				r.log.Warn("远端下架失败", zap.Int64("product_id", rec.LocalID), zap.Stringer("result", res))
			}
			return r.svc.records.Save(ctx, model.EntityProduct, &rec)
		})
	}
	return nil
}

// unassignVariants DELETE products/{parent}/variants/{id}，404 也视为完成
func (r *catalogRun) unassignVariants(ctx context.Context) error {
	pending, err := r.svc.records.ListUnassignPending(ctx, model.EntityProduct, r.storeID, r.svc.opts.SweepLimit)
	if err != nil {
		return fmt.Errorf("读取待解除关联记录失败: %w", err)
	}
	for i := range pending {
		rec := pending[i]
		guard(r.log, r.sum, "product_unassign", rec.LocalID, func() error {
			if rec.RemoteParent() != "" {
				path := variantResource(rec.RemoteParent()).item(*rec.RemoteIDUnassign)
				res := r.svc.gateway.Sync(ctx, r.storeID, net.MethodDelete, path, nil, nil)
				applyResult(&rec, res)
				switch res.Outcome().(type) {
				case net.Success, net.NotFound:
				default:
					r.log.Warn("解除变体关联失败", zap.Int64("product_id", rec.LocalID), zap.Stringer("result", res))
					return r.svc.records.Save(ctx, model.EntityProduct, &rec)
				}
			}
			rec.RemoteIDUnassign = nil
			rec.RemoteParentID = nil
			r.sum.Unassigned++
			return r.svc.records.Save(ctx, model.EntityProduct, &rec)
		})
	}
	return nil
}
