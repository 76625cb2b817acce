package repository

import (
	"context"
	"time"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FlagRepository 源实体 "已同步" 标记
type FlagRepository interface {
	SyncedSet(ctx context.Context, entity model.EntityType, storeID int64, ids []int64) (map[int64]bool, error)
	SetSynced(ctx context.Context, entity model.EntityType, storeID int64, ids []int64, synced bool) error
	MarkDirty(ctx context.Context, entity model.EntityType, entityID int64) error
	ClearStore(ctx context.Context, entity model.EntityType, storeID int64) (int64, error)
}

type flagRepository struct {
	db *gorm.DB
}

// NewFlagRepository 创建同步标记仓库
func NewFlagRepository(db *gorm.DB) FlagRepository {
	return &flagRepository{db: db}
}

func (r *flagRepository) SyncedSet(ctx context.Context, entity model.EntityType, storeID int64, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var flags []model.SyncFlag
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND store_id = ? AND entity_id IN ? AND synced = ?", entity, storeID, ids, true).
		Find(&flags).Error
	if err != nil {
		return nil, err
	}
	for _, f := range flags {
		out[f.EntityID] = true
	}
	return out, nil
}

func (r *flagRepository) SetSynced(ctx context.Context, entity model.EntityType, storeID int64, ids []int64, synced bool) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]model.SyncFlag, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, model.SyncFlag{
			EntityType: entity,
			EntityID:   id,
			StoreID:    storeID,
			Synced:     synced,
			UpdatedAt:  now,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"synced", "updated_at"}),
	}).Create(&rows).Error
}

// MarkDirty 本地实体变更后调用，所有店铺重新进入候选
func (r *flagRepository) MarkDirty(ctx context.Context, entity model.EntityType, entityID int64) error {
	return r.db.WithContext(ctx).Model(&model.SyncFlag{}).
		Where("entity_type = ? AND entity_id = ?", entity, entityID).
		Updates(map[string]interface{}{"synced": false, "updated_at": time.Now()}).Error
}

// ClearStore 清除店铺下该实体的全部标记
func (r *flagRepository) ClearStore(ctx context.Context, entity model.EntityType, storeID int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("entity_type = ? AND store_id = ?", entity, storeID).
		Delete(&model.SyncFlag{})
	return res.RowsAffected, res.Error
}
