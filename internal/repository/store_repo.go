package repository

import (
	"context"
	"errors"
	"time"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ==================== StoreRepository 店铺仓库 ====================

// StoreRepository 店铺仓库接口
type StoreRepository interface {
	Create(ctx context.Context, store *model.Store) error
	GetByID(ctx context.Context, id int64) (*model.Store, error)
	ListActive(ctx context.Context) ([]model.Store, error)
}

type storeRepository struct {
	db *gorm.DB
}

// NewStoreRepository 创建店铺仓库
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepository{db: db}
}

func (r *storeRepository) Create(ctx context.Context, store *model.Store) error {
	return r.db.WithContext(ctx).Create(store).Error
}

func (r *storeRepository) GetByID(ctx context.Context, id int64) (*model.Store, error) {
	var s model.Store
	err := r.db.WithContext(ctx).First(&s, id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *storeRepository) ListActive(ctx context.Context) ([]model.Store, error) {
	var list []model.Store
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND id <> ?", true, model.DefaultScopeStoreID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// ==================== ConfigRepository 店铺配置仓库 ====================

// ConfigRepository 店铺级键值配置
type ConfigRepository interface {
	Get(ctx context.Context, storeID int64, path string) (string, bool, error)
	Set(ctx context.Context, storeID int64, path, value string) error
	Delete(ctx context.Context, storeID int64, path string) error
	List(ctx context.Context, storeID int64) ([]model.StoreConfig, error)
}

type configRepository struct {
	db *gorm.DB
}

// NewConfigRepository 创建配置仓库
func NewConfigRepository(db *gorm.DB) ConfigRepository {
	return &configRepository{db: db}
}

func (r *configRepository) Get(ctx context.Context, storeID int64, path string) (string, bool, error) {
	var c model.StoreConfig
	err := r.db.WithContext(ctx).Where("store_id = ? AND path = ?", storeID, path).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c.Value, true, nil
}

func (r *configRepository) Set(ctx context.Context, storeID int64, path, value string) error {
	row := model.StoreConfig{StoreID: storeID, Path: path, Value: value, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (r *configRepository) Delete(ctx context.Context, storeID int64, path string) error {
	return r.db.WithContext(ctx).
		Where("store_id = ? AND path = ?", storeID, path).
		Delete(&model.StoreConfig{}).Error
}

func (r *configRepository) List(ctx context.Context, storeID int64) ([]model.StoreConfig, error) {
	var list []model.StoreConfig
	err := r.db.WithContext(ctx).Where("store_id = ?", storeID).Order("path ASC").Find(&list).Error
	return list, err
}
