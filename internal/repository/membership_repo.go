package repository

import (
	"context"
	"time"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ==================== MembershipRepository 集合成员仓库 ====================

// MembershipRepository 分类-商品成员关系同步表
type MembershipRepository interface {
	ListPending(ctx context.Context, storeID int64, limit int) ([]model.CollectionMembership, error)
	GetByIDs(ctx context.Context, storeID int64, ids []int64) ([]model.CollectionMembership, error)
	ListByStore(ctx context.Context, storeID int64) ([]model.CollectionMembership, error)
	ListByProduct(ctx context.Context, storeID, productID int64) ([]model.CollectionMembership, error)
	ListByCategory(ctx context.Context, storeID, categoryID int64) ([]model.CollectionMembership, error)

	InsertPending(ctx context.Context, rows []model.CollectionMembership) error
	Save(ctx context.Context, row *model.CollectionMembership) error
	MarkDeleted(ctx context.Context, ids []int64) (int64, error)
	MarkDeletedForCategory(ctx context.Context, storeID, categoryID int64) (int64, error)
	CountOpenDeletes(ctx context.Context, storeID, categoryID int64) (int64, error)
	Recreate(ctx context.Context, ids []int64) (int64, error)

	ListFailed(ctx context.Context, threshold string) (map[int64][]int64, error)
	DeleteByStore(ctx context.Context, storeID int64) (int64, error)
	StoreIDs(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context, storeID int64) (*SyncStats, error)
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository 创建成员关系仓库
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) scoped(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.CollectionMembership{})
}

// ListPending 未完成的添加与移除，移除优先
func (r *membershipRepository) ListPending(ctx context.Context, storeID int64, limit int) ([]model.CollectionMembership, error) {
	var list []model.CollectionMembership
	q := r.db.WithContext(ctx).
		Where("store_id = ? AND synced = ?", storeID, false).
		Order("is_deleted DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return list, q.Find(&list).Error
}

func (r *membershipRepository) GetByIDs(ctx context.Context, storeID int64, ids []int64) ([]model.CollectionMembership, error) {
	var list []model.CollectionMembership
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND id IN ?", storeID, ids).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *membershipRepository) ListByStore(ctx context.Context, storeID int64) ([]model.CollectionMembership, error) {
	var list []model.CollectionMembership
	err := r.db.WithContext(ctx).Where("store_id = ?", storeID).Find(&list).Error
	return list, err
}

func (r *membershipRepository) ListByProduct(ctx context.Context, storeID, productID int64) ([]model.CollectionMembership, error) {
	var list []model.CollectionMembership
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND product_id = ?", storeID, productID).
		Find(&list).Error
	return list, err
}

func (r *membershipRepository) ListByCategory(ctx context.Context, storeID, categoryID int64) ([]model.CollectionMembership, error) {
	var list []model.CollectionMembership
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND category_id = ?", storeID, categoryID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// InsertPending 插入待添加的成员关系，已存在的键忽略
func (r *membershipRepository) InsertPending(ctx context.Context, rows []model.CollectionMembership) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "category_id"}, {Name: "product_id"}, {Name: "store_id"}},
		DoNothing: true,
	}).Create(&rows).Error
}

func (r *membershipRepository) Save(ctx context.Context, row *model.CollectionMembership) error {
	if row.SyncedAt == nil {
		now := time.Now()
		row.SyncedAt = &now
	}
	if row.ID != 0 {
		return r.db.WithContext(ctx).Save(row).Error
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "category_id"}, {Name: "product_id"}, {Name: "store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"remote_collection_id", "remote_product_id", "response_code", "synced_at",
			"synced", "is_deleted", "is_deleted_remote", "updated_at",
		}),
	}).Create(row).Error
}

// MarkDeleted 置删除标记并重新排队
func (r *membershipRepository) MarkDeleted(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.scoped(ctx).
		Where("id IN ? AND is_deleted = ?", ids, false).
		Updates(map[string]interface{}{"is_deleted": true, "synced": false, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

func (r *membershipRepository) MarkDeletedForCategory(ctx context.Context, storeID, categoryID int64) (int64, error) {
	res := r.scoped(ctx).
		Where("store_id = ? AND category_id = ? AND is_deleted = ?", storeID, categoryID, false).
		Updates(map[string]interface{}{"is_deleted": true, "synced": false, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// CountOpenDeletes 分类下尚未完成远端移除的成员数
func (r *membershipRepository) CountOpenDeletes(ctx context.Context, storeID, categoryID int64) (int64, error) {
	var n int64
	err := r.scoped(ctx).
		Where("store_id = ? AND category_id = ?", storeID, categoryID).
		Where("is_deleted = ? AND is_deleted_remote = ?", true, false).
		Count(&n).Error
	return n, err
}

// Recreate 已删除的行不复活：删除墓碑行，按同一键插入新的待添加行
// 只处理 is_deleted=1 的行，返回重建的行数
func (r *membershipRepository) Recreate(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tombs []model.CollectionMembership
		if err := tx.Where("id IN ? AND is_deleted = ?", ids, true).Find(&tombs).Error; err != nil {
			return err
		}
		if len(tombs) == 0 {
			return nil
		}
		dead := make([]int64, 0, len(tombs))
		fresh := make([]model.CollectionMembership, 0, len(tombs))
		for _, t := range tombs {
			dead = append(dead, t.ID)
			fresh = append(fresh, model.CollectionMembership{
				CategoryID: t.CategoryID,
				ProductID:  t.ProductID,
				StoreID:    t.StoreID,
			})
		}
		if err := tx.Where("id IN ?", dead).Delete(&model.CollectionMembership{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&fresh).Error; err != nil {
			return err
		}
		n = int64(len(fresh))
		return nil
	})
	return n, err
}

// failed 响应码 >= 阈值且未被对账为完成
// 添加时 409 (已存在) 与移除时 404 (已不存在) 视为成功，不计入失败
func (r *membershipRepository) failed(db *gorm.DB, threshold string) *gorm.DB {
	return db.
		Where("LENGTH(response_code) = 3 AND response_code >= ?", threshold).
		Where("NOT (response_code = ? AND is_deleted = ? AND remote_product_id IS NOT NULL)", "409", false).
		Where("NOT (response_code = ? AND is_deleted_remote = ?)", "404", true)
}

func (r *membershipRepository) ListFailed(ctx context.Context, threshold string) (map[int64][]int64, error) {
	var rows []struct {
		ID      int64
		StoreID int64
	}
	err := r.failed(r.scoped(ctx), threshold).
		Select("id, store_id").
		Order("store_id ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]int64)
	for _, row := range rows {
		out[row.StoreID] = append(out[row.StoreID], row.ID)
	}
	return out, nil
}

func (r *membershipRepository) DeleteByStore(ctx context.Context, storeID int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("store_id = ?", storeID).Delete(&model.CollectionMembership{})
	return res.RowsAffected, res.Error
}

func (r *membershipRepository) StoreIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.scoped(ctx).Distinct("store_id").Order("store_id").Pluck("store_id", &ids).Error
	return ids, err
}

func (r *membershipRepository) Stats(ctx context.Context, storeID int64) (*SyncStats, error) {
	s := &SyncStats{Entity: model.EntityMembership, StoreID: storeID}
	base := func() *gorm.DB { return r.scoped(ctx).Where("store_id = ?", storeID) }

	if err := base().Count(&s.Total).Error; err != nil {
		return nil, err
	}
	if err := base().Where("synced = ? AND is_deleted = ?", true, false).Count(&s.Synced).Error; err != nil {
		return nil, err
	}
	if err := r.failed(base(), FailedThreshold).Count(&s.Failed).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_deleted = ? AND is_deleted_remote = ?", true, false).
		Count(&s.DeletePending).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_deleted_remote = ?", true).Count(&s.DeletedRemote).Error; err != nil {
		return nil, err
	}
	if err := base().Where("synced = ? AND is_deleted = ?", false, false).Count(&s.Pending).Error; err != nil {
		return nil, err
	}
	return s, nil
}
