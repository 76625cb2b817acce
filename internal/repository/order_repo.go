package repository

import (
	"context"
	"time"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
)

// ==================== OrderRepository 订单仓库 ====================

// OrderRepository 订单仓库接口
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	ListCandidates(ctx context.Context, storeID int64, since *time.Time, limit int) ([]model.Order, error)
	GetByIDs(ctx context.Context, storeID int64, ids []int64) ([]model.Order, error)
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) withRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Addresses").
		Preload("Shipments", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Shipments.Items").
		Preload("Shipments.Tracks")
}

// ListCandidates 店铺内未标记同步的订单，since 为同步起始时间窗口
func (r *orderRepository) ListCandidates(ctx context.Context, storeID int64, since *time.Time, limit int) ([]model.Order, error) {
	var orders []model.Order
	q := r.withRelations(ctx).
		Where("orders.store_id = ?", storeID).
		Where(candidateWhere(model.EntityOrder, "orders.id", storeID))
	if since != nil {
		q = q.Where("orders.created_at >= ?", *since)
	}
	q = q.Order("orders.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return orders, q.Find(&orders).Error
}

// GetByIDs 按 ID 读取订单 (重试 / 强制同步)
func (r *orderRepository) GetByIDs(ctx context.Context, storeID int64, ids []int64) ([]model.Order, error) {
	var orders []model.Order
	if len(ids) == 0 {
		return orders, nil
	}
	err := r.withRelations(ctx).
		Where("store_id = ? AND id IN ?", storeID, ids).
		Order("id ASC").
		Find(&orders).Error
	return orders, err
}
