package repository

import (
	"context"
	"fmt"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
)

// Models 需要 AutoMigrate 的普通表
func Models() []interface{} {
	return []interface{}{
		// 店铺与配置
		&model.Store{}, &model.StoreConfig{}, &model.JobSchedule{},
		// 本地商品/分类
		&model.Product{}, &model.ProductStore{}, &model.ProductRelation{},
		&model.Category{}, &model.CategoryProduct{},
		// 订单
		&model.Order{}, &model.OrderItem{}, &model.OrderAddress{},
		&model.Shipment{}, &model.ShipmentItem{}, &model.ShipmentTrack{},
		&model.NewsletterSubscriber{},
		// 同步状态
		&model.SyncFlag{}, &model.CollectionMembership{},
	}
}

// SyncRecordEntities 使用 SyncRecord 结构的实体
var SyncRecordEntities = []model.EntityType{model.EntityProduct, model.EntityCategory, model.EntityOrder}

// Migrate 建表并为每张同步表创建 (local_id, store_id) 唯一索引
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("自动建表出错: %w", err)
	}

	for _, entity := range SyncRecordEntities {
		table := entity.SyncTable()
		if err := db.WithContext(ctx).Table(table).AutoMigrate(&model.SyncRecord{}); err != nil {
			return fmt.Errorf("同步表 %s 建表失败: %w", table, err)
		}
		stmts := []string{
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_local_store ON %s (local_id, store_id)", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_store_code ON %s (store_id, response_code)", table, table),
		}
		for _, stmt := range stmts {
			if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
				return fmt.Errorf("同步表 %s 建索引失败: %w", table, err)
			}
		}
	}
	return nil
}
