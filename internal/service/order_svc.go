package service

import (
	"context"
	"fmt"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/logger"

	"go.uber.org/zap"
)

// ==================== OrderService 订单同步 ====================

type OrderService struct {
	records  repository.SyncRecordRepository
	flags    repository.FlagRepository
	orders   repository.OrderRepository
	cfg      *StoreConfigService
	gateway  Gateway
	adapter  *OrderDataAdapter
	products ProductSyncer
	opts     ProcessorOptions
	log      *zap.Logger
}

var _ Processor = (*OrderService)(nil)

func NewOrderService(
	records repository.SyncRecordRepository,
	flags repository.FlagRepository,
	orders repository.OrderRepository,
	catalog repository.CatalogRepository,
	cfg *StoreConfigService,
	gateway Gateway,
	products ProductSyncer,
	customer CustomerEnricher,
	opts ProcessorOptions,
	log *zap.Logger,
) *OrderService {
	return &OrderService{
		records:  records,
		flags:    flags,
		orders:   orders,
		cfg:      cfg,
		gateway:  gateway,
		adapter:  NewOrderDataAdapter(catalog, customer),
		products: products,
		opts:     opts.withDefaults(),
		log:      log.Named("order"),
	}
}

func (s *OrderService) Entity() model.EntityType {
	return model.EntityOrder
}

func (s *OrderService) Run(ctx context.Context, storeID int64, ids []int64) (*RunSummary, error) {
	log, runID := logger.WithRun(s.log, string(model.EntityOrder), storeID)
	sum := newSummary(model.EntityOrder, storeID, runID)

	terminal, err := s.cfg.TerminalCodes(ctx, storeID)
	if err != nil {
		return nil, err
	}
	fromShipments, err := s.cfg.GetBool(ctx, storeID, PathOrderShipmentFulfilled, false)
	if err != nil {
		return nil, err
	}

	forced := len(ids) > 0
	var orders []model.Order
	if forced {
		orders, err = s.orders.GetByIDs(ctx, storeID, ids)
	} else {
		since, terr := s.cfg.GetTime(ctx, storeID, PathOrderStartDate)
		if terr != nil {
			return nil, terr
		}
		orders, err = s.orders.ListCandidates(ctx, storeID, since, s.opts.BatchSize)
	}
	if err != nil {
		return nil, fmt.Errorf("读取候选订单失败: %w", err)
	}
	sum.Selected = len(orders)
	if len(orders) == 0 {
		return sum.finish(), nil
	}

	orderIDs := make([]int64, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
	}
	records, err := s.records.GetMany(ctx, model.EntityOrder, storeID, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("读取同步记录失败: %w", err)
	}
	flagged, err := s.flags.SyncedSet(ctx, model.EntityOrder, storeID, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("读取同步标记失败: %w", err)
	}

	run := &orderRun{
		svc:           s,
		storeID:       storeID,
		log:           log,
		sum:           sum,
		terminal:      terminal,
		records:       records,
		fromShipments: fromShipments,
	}

	var retry []model.Order
	for i := range orders {
		o := orders[i]
		elig := DecideEligibility(records[o.ID], flagged[o.ID], forced)
		if !elig.CanSync() {
			sum.Skipped++
			continue
		}
		var step itemStep
		ok := guard(log, sum, "order", o.ID, func() error {
			var err error
			step, err = run.syncOne(ctx, &o)
			return err
		})
		if !ok {
			continue
		}
		switch step {
		case stepRecoverable:
			retry = append(retry, o)
		case stepFailed:
			sum.Failed++
		}
	}
	for i := range retry {
		o := retry[i]
		sum.Retried++
		var step itemStep
		ok := guard(log, sum, "order", o.ID, func() error {
			var err error
			step, err = run.syncOne(ctx, &o)
			return err
		})
		if ok && step != stepDone && step != stepDeferred {
			sum.Failed++
		}
	}

	sum.finish()
	log.Info("订单同步完成", sum.fields()...)
	return sum, nil
}

type orderRun struct {
	svc           *OrderService
	storeID       int64
	log           *zap.Logger
	sum           *RunSummary
	terminal      TerminalSet
	records       map[int64]*model.SyncRecord
	fromShipments bool
}

func (r *orderRun) syncOne(ctx context.Context, o *model.Order) (itemStep, error) {
	roots, err := r.svc.adapter.ResolveRoots(ctx, ProductIDs(o))
	if err != nil {
		return stepFailed, err
	}
	remotes, missing, err := r.productRemotes(ctx, roots)
	if err != nil {
		return stepFailed, err
	}

	// 订单引用的商品必须先有远端 ID，缺失的就地同步一次
	if len(missing) > 0 && r.svc.products != nil {
		r.log.Info("订单引用的商品尚未同步，先同步商品",
			zap.String("increment_id", o.IncrementID), zap.Int64s("product_ids", missing))
		if err := r.svc.products.SyncProducts(ctx, r.storeID, missing); err != nil {
			return stepFailed, err
		}
		remotes, missing, err = r.productRemotes(ctx, roots)
		if err != nil {
			return stepFailed, err
		}
	}
	if len(missing) > 0 {
		r.sum.Deferred++
		r.log.Warn("商品同步未成功，订单延后",
			zap.String("increment_id", o.IncrementID), zap.Int64s("product_ids", missing))
		return stepDeferred, nil
	}

	payload, err := r.svc.adapter.Payload(ctx, OrderPayloadInput{
		Order:         o,
		Roots:         roots,
		RemoteProduct: remotes,
		FromShipments: r.fromShipments,
	})
	if err != nil {
		return stepFailed, err
	}

	rec := r.records[o.ID]
	if rec == nil {
		rec = &model.SyncRecord{LocalID: o.ID, StoreID: r.storeID}
	}
	res := upsertRemote(ctx, r.svc.gateway, r.storeID, orderResource, o.IncrementID, rec.Remote(), payload)

	applyResult(rec, res.Result)
	rec.RemoteID = model.StrPtr(res.RemoteID)
	if err := r.svc.records.Save(ctx, model.EntityOrder, rec); err != nil {
		return stepFailed, fmt.Errorf("保存同步记录失败: %w", err)
	}
	r.records[o.ID] = rec

	if shouldFlag(res.Result, r.terminal) {
		if err := r.svc.flags.SetSynced(ctx, model.EntityOrder, r.storeID, []int64{o.ID}, true); err != nil {
			return stepFailed, err
		}
	}

	switch {
	case res.IsSuccess:
		r.sum.Succeeded++
		r.log.Debug("订单已同步", zap.String("increment_id", o.IncrementID),
			zap.String("remote_id", res.RemoteID), zap.Bool("reconciled", res.Reconciled))
		return stepDone, nil
	case isRecoverable(res.Result):
		r.log.Warn("订单同步可恢复失败", zap.String("increment_id", o.IncrementID), zap.Stringer("result", res.Result))
		return stepRecoverable, nil
	default:
		r.log.Warn("订单同步失败", zap.String("increment_id", o.IncrementID), zap.Stringer("result", res.Result))
		return stepFailed, nil
	}
}

// productRemotes 根商品 → 远端 ID，并返回仍缺失远端 ID 的根商品
func (r *orderRun) productRemotes(ctx context.Context, roots map[int64]int64) (map[int64]string, []int64, error) {
	seen := make(map[int64]bool)
	var rootIDs []int64
	for _, root := range roots {
		if !seen[root] {
			seen[root] = true
			rootIDs = append(rootIDs, root)
		}
	}
	recs, err := r.svc.records.GetMany(ctx, model.EntityProduct, r.storeID, rootIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("读取商品同步记录失败: %w", err)
	}
	remotes := make(map[int64]string, len(rootIDs))
	var missing []int64
	for _, id := range rootIDs {
		if rec := recs[id]; rec.HasRemote() {
			remotes[id] = rec.Remote()
		} else {
			missing = append(missing, id)
		}
	}
	sortIDs(missing)
	return remotes, missing, nil
}
