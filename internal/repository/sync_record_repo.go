package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FailedThreshold 响应码 >= 该值视为失败，供重试扫描
const FailedThreshold = "400"

// ==================== 统计 ====================

// SyncStats 单店铺单实体的同步统计
type SyncStats struct {
	Entity         model.EntityType `json:"entity"`
	StoreID        int64            `json:"store_id"`
	Total          int64            `json:"total"`
	Synced         int64            `json:"synced"`
	Failed         int64            `json:"failed"`
	Pending        int64            `json:"pending"`
	DeletePending  int64            `json:"delete_pending"`
	DeletedRemote  int64            `json:"deleted_remote"`
	UnassignQueued int64            `json:"unassign_queued"`
}

// OrphanScope 判定 "本地已不存在" 的范围
type OrphanScope struct {
	// RootCategoryPath 店铺根分类路径，如 "1/2"
	RootCategoryPath string
}

// ==================== SyncRecordRepository 同步记录仓库 ====================

// SyncRecordRepository 同步状态表仓库
// 所有方法按实体类型选择表，写入都是按 (local_id, store_id) 的单行 upsert
type SyncRecordRepository interface {
	Get(ctx context.Context, entity model.EntityType, localID, storeID int64) (*model.SyncRecord, error)
	GetMany(ctx context.Context, entity model.EntityType, storeID int64, localIDs []int64) (map[int64]*model.SyncRecord, error)
	FindByRemoteID(ctx context.Context, entity model.EntityType, storeID int64, remoteID string) (*model.SyncRecord, error)
	Save(ctx context.Context, entity model.EntityType, rec *model.SyncRecord) error

	// 删除 / 解除关联
	ListDeletePending(ctx context.Context, entity model.EntityType, storeID int64, limit int) ([]model.SyncRecord, error)
	ListUnassignPending(ctx context.Context, entity model.EntityType, storeID int64, limit int) ([]model.SyncRecord, error)
	ListVariantRecords(ctx context.Context, entity model.EntityType, storeID int64) ([]model.SyncRecord, error)
	MarkDeleted(ctx context.Context, entity model.EntityType, storeID int64, localIDs []int64) (int64, error)
	FlagOrphans(ctx context.Context, entity model.EntityType, storeID int64, scope OrphanScope) (int64, error)

	// 重置 / 重试
	ForceResync(ctx context.Context, entity model.EntityType, storeID int64, localIDs []int64) (int64, error)
	ListFailed(ctx context.Context, entity model.EntityType, threshold string) (map[int64][]int64, error)
	DeleteByStore(ctx context.Context, entity model.EntityType, storeID int64) (int64, error)
	StoreIDs(ctx context.Context, entity model.EntityType) ([]int64, error)
	Stats(ctx context.Context, entity model.EntityType, storeID int64) (*SyncStats, error)
}

type syncRecordRepository struct {
	db *gorm.DB
}

// NewSyncRecordRepository 创建同步记录仓库
func NewSyncRecordRepository(db *gorm.DB) SyncRecordRepository {
	return &syncRecordRepository{db: db}
}

func (r *syncRecordRepository) table(ctx context.Context, entity model.EntityType) *gorm.DB {
	return r.db.WithContext(ctx).Table(entity.SyncTable())
}

func (r *syncRecordRepository) Get(ctx context.Context, entity model.EntityType, localID, storeID int64) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	err := r.table(ctx, entity).
		Where("local_id = ? AND store_id = ?", localID, storeID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *syncRecordRepository) GetMany(ctx context.Context, entity model.EntityType, storeID int64, localIDs []int64) (map[int64]*model.SyncRecord, error) {
	out := make(map[int64]*model.SyncRecord, len(localIDs))
	if len(localIDs) == 0 {
		return out, nil
	}
	var list []model.SyncRecord
	err := r.table(ctx, entity).
		Where("store_id = ? AND local_id IN ?", storeID, localIDs).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	for i := range list {
		out[list[i].LocalID] = &list[i]
	}
	return out, nil
}

func (r *syncRecordRepository) FindByRemoteID(ctx context.Context, entity model.EntityType, storeID int64, remoteID string) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	err := r.table(ctx, entity).
		Where("store_id = ? AND remote_id = ?", storeID, remoteID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save 已有记录按主键更新；新记录按 (local_id, store_id) upsert，首次同步尝试时惰性创建
func (r *syncRecordRepository) Save(ctx context.Context, entity model.EntityType, rec *model.SyncRecord) error {
	if rec.SyncedAt == nil {
		now := time.Now()
		rec.SyncedAt = &now
	}
	if rec.ID != 0 {
		return r.table(ctx, entity).Save(rec).Error
	}
	return r.table(ctx, entity).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "local_id"}, {Name: "store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"remote_id", "remote_parent_id", "remote_id_unassign",
			"response_code", "response_body", "synced_at",
			"is_deleted", "is_deleted_remote", "updated_at",
		}),
	}).Create(rec).Error
}

func (r *syncRecordRepository) ListDeletePending(ctx context.Context, entity model.EntityType, storeID int64, limit int) ([]model.SyncRecord, error) {
	var list []model.SyncRecord
	q := r.table(ctx, entity).
		Where("store_id = ? AND is_deleted = ? AND is_deleted_remote = ?", storeID, true, false).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return list, q.Find(&list).Error
}

func (r *syncRecordRepository) ListUnassignPending(ctx context.Context, entity model.EntityType, storeID int64, limit int) ([]model.SyncRecord, error) {
	var list []model.SyncRecord
	q := r.table(ctx, entity).
		Where("store_id = ? AND remote_id_unassign IS NOT NULL AND remote_id_unassign <> ''", storeID).
		Where("is_deleted = ?", false).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return list, q.Find(&list).Error
}

func (r *syncRecordRepository) ListVariantRecords(ctx context.Context, entity model.EntityType, storeID int64) ([]model.SyncRecord, error) {
	var list []model.SyncRecord
	err := r.table(ctx, entity).
		Where("store_id = ? AND remote_parent_id IS NOT NULL AND remote_id IS NOT NULL", storeID).
		Where("is_deleted = ?", false).
		Find(&list).Error
	return list, err
}

// MarkDeleted 删除标记单调：只置位，不清除
func (r *syncRecordRepository) MarkDeleted(ctx context.Context, entity model.EntityType, storeID int64, localIDs []int64) (int64, error) {
	if len(localIDs) == 0 {
		return 0, nil
	}
	res := r.table(ctx, entity).
		Where("store_id = ? AND local_id IN ? AND is_deleted = ?", storeID, localIDs, false).
		Updates(map[string]interface{}{"is_deleted": true, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// FlagOrphans 本地实体已删除或已移出店铺的记录置 is_deleted
func (r *syncRecordRepository) FlagOrphans(ctx context.Context, entity model.EntityType, storeID int64, scope OrphanScope) (int64, error) {
	var live *gorm.DB
	switch entity {
	case model.EntityProduct:
		live = r.db.WithContext(ctx).Table("product_stores ps").
			Select("ps.product_id").
			Joins("JOIN products p ON p.id = ps.product_id").
			Where("ps.store_id = ? AND p.deleted_at IS NULL", storeID)
	case model.EntityCategory:
		if scope.RootCategoryPath == "" {
			return 0, nil
		}
		live = r.db.WithContext(ctx).Table("categories").
			Select("id").
			Where("deleted_at IS NULL AND path LIKE ?", scope.RootCategoryPath+"/%")
	default:
		return 0, fmt.Errorf("实体 %s 不支持孤儿检测", entity)
	}

	res := r.table(ctx, entity).
		Where("store_id = ? AND is_deleted = ?", storeID, false).
		Where("local_id NOT IN (?)", live).
		Updates(map[string]interface{}{"is_deleted": true, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// ForceResync 写入 "000" 哨兵
func (r *syncRecordRepository) ForceResync(ctx context.Context, entity model.EntityType, storeID int64, localIDs []int64) (int64, error) {
	q := r.table(ctx, entity).Where("store_id = ? AND is_deleted = ?", storeID, false)
	if len(localIDs) > 0 {
		q = q.Where("local_id IN ?", localIDs)
	}
	res := q.Updates(map[string]interface{}{"response_code": "000", "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// ListFailed 按店铺分组返回失败记录的本地 ID
func (r *syncRecordRepository) ListFailed(ctx context.Context, entity model.EntityType, threshold string) (map[int64][]int64, error) {
	var rows []struct {
		LocalID int64
		StoreID int64
	}
	err := r.table(ctx, entity).
		Select("local_id, store_id").
		Where("LENGTH(response_code) = 3 AND response_code >= ?", threshold).
		Where("is_deleted = ?", false).
		Order("store_id ASC, local_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]int64)
	for _, row := range rows {
		out[row.StoreID] = append(out[row.StoreID], row.LocalID)
	}
	return out, nil
}

func (r *syncRecordRepository) DeleteByStore(ctx context.Context, entity model.EntityType, storeID int64) (int64, error) {
	res := r.table(ctx, entity).Where("store_id = ?", storeID).Delete(&model.SyncRecord{})
	return res.RowsAffected, res.Error
}

func (r *syncRecordRepository) StoreIDs(ctx context.Context, entity model.EntityType) ([]int64, error) {
	var ids []int64
	err := r.table(ctx, entity).Distinct("store_id").Order("store_id").Pluck("store_id", &ids).Error
	return ids, err
}

func (r *syncRecordRepository) Stats(ctx context.Context, entity model.EntityType, storeID int64) (*SyncStats, error) {
	s := &SyncStats{Entity: entity, StoreID: storeID}
	base := func() *gorm.DB { return r.table(ctx, entity).Where("store_id = ?", storeID) }

	if err := base().Count(&s.Total).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_deleted = ? AND remote_id IS NOT NULL AND response_code LIKE ?", false, "2%").
		Count(&s.Synced).Error; err != nil {
		return nil, err
	}
	if err := base().Where("LENGTH(response_code) = 3 AND response_code >= ?", FailedThreshold).
		Count(&s.Failed).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_deleted = ? AND is_deleted_remote = ?", true, false).
		Count(&s.DeletePending).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_deleted_remote = ?", true).Count(&s.DeletedRemote).Error; err != nil {
		return nil, err
	}
	if err := base().Where("remote_id_unassign IS NOT NULL AND remote_id_unassign <> ''").
		Count(&s.UnassignQueued).Error; err != nil {
		return nil, err
	}
	s.Pending = s.Total - s.Synced - s.Failed - s.DeletePending - s.DeletedRemote
	if s.Pending < 0 {
		s.Pending = 0
	}
	return s, nil
}
