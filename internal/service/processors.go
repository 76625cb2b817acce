package service

import (
	"errors"
	"fmt"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUnknownEntity = errors.New("未知的实体类型")

// Registry 实体类型 → 处理器
type Registry struct {
	procs map[model.EntityType]Processor
}

func NewRegistry(procs ...Processor) *Registry {
	r := &Registry{procs: make(map[model.EntityType]Processor, len(procs))}
	for _, p := range procs {
		r.procs[p.Entity()] = p
	}
	return r
}

func (r *Registry) Get(entity model.EntityType) (Processor, error) {
	p, ok := r.procs[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return p, nil
}

// All 按依赖顺序返回 (分类 → 商品 → 成员关系 → 订单)
func (r *Registry) All() []Processor {
	out := make([]Processor, 0, len(r.procs))
	for _, e := range model.AllEntityTypes {
		if p, ok := r.procs[e]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ==================== 组装 ====================

// SyncDeps 同步引擎依赖
type SyncDeps struct {
	DB       *gorm.DB
	Config   *StoreConfigService
	Gateway  Gateway
	Cache    *utils.StoreCache
	Customer CustomerEnricher
	Options  ProcessorOptions
	Log      *zap.Logger
}

// Engine 组装好的处理器与仓库
type Engine struct {
	Registry   *Registry
	Catalog    *CatalogService
	Category   *CategoryService
	Membership *MembershipService
	Order      *OrderService

	Records repository.SyncRecordRepository
	Members repository.MembershipRepository
	Flags   repository.FlagRepository
	Stores  repository.StoreRepository
	Jobs    repository.JobRepository
}

// NewEngine 按依赖顺序创建处理器并互相注入
func NewEngine(d SyncDeps) *Engine {
	records := repository.NewSyncRecordRepository(d.DB)
	members := repository.NewMembershipRepository(d.DB)
	flags := repository.NewFlagRepository(d.DB)
	catalog := repository.NewCatalogRepository(d.DB)
	stores := repository.NewStoreRepository(d.DB)
	orders := repository.NewOrderRepository(d.DB)
	cache := d.Cache
	if cache == nil {
		cache = utils.NewStoreCache(0)
	}

	catalogSvc := NewCatalogService(records, flags, catalog, stores, d.Config, d.Gateway, d.Options, d.Log)
	categorySvc := NewCategoryService(records, flags, members, catalog, stores, d.Config, d.Gateway, cache, d.Options, d.Log)
	membershipSvc := NewMembershipService(members, records, catalog, stores, d.Config, d.Gateway, catalogSvc, categorySvc, d.Options, d.Log)
	orderSvc := NewOrderService(records, flags, orders, catalog, d.Config, d.Gateway, catalogSvc, d.Customer, d.Options, d.Log)

	catalogSvc.SetMembershipReconciler(membershipSvc)
	categorySvc.SetCascade(membershipSvc)

	return &Engine{
		Registry:   NewRegistry(categorySvc, catalogSvc, membershipSvc, orderSvc),
		Catalog:    catalogSvc,
		Category:   categorySvc,
		Membership: membershipSvc,
		Order:      orderSvc,
		Records:    records,
		Members:    members,
		Flags:      flags,
		Stores:     stores,
		Jobs:       repository.NewJobRepository(d.DB),
	}
}
