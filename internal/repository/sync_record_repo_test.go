package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"storesync_v1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ==================== 测试辅助 ====================

func setupSyncRepoTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func seedProducts(t *testing.T, db *gorm.DB, storeID int64, ids ...int64) {
	for _, id := range ids {
		require.NoError(t, db.Create(&model.Product{
			BaseModel: model.BaseModel{ID: id},
			SKU:       fmt.Sprintf("SKU-%d", id),
			Name:      "P",
			TypeID:    model.ProductTypeSimple,
		}).Error)
		require.NoError(t, db.Create(&model.ProductStore{ProductID: id, StoreID: storeID}).Error)
	}
}

func candidateIDs(t *testing.T, repo CatalogRepository, storeID int64) []int64 {
	list, err := repo.ListProductCandidates(context.Background(), storeID, 0)
	require.NoError(t, err)
	ids := make([]int64, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	return ids
}

// ==================== 同步记录 ====================

func TestSyncRecordRepository_SaveUpsertsByLocalKey(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewSyncRecordRepository(db)
	ctx := context.Background()

	first := &model.SyncRecord{LocalID: 10, StoreID: 1, ResponseCode: "503"}
	require.NoError(t, repo.Save(ctx, model.EntityProduct, first))

	// 同一 (local_id, store_id) 的新对象覆盖而不是插入新行
	second := &model.SyncRecord{LocalID: 10, StoreID: 1, RemoteID: model.StrPtr("p-1"), ResponseCode: "201"}
	require.NoError(t, repo.Save(ctx, model.EntityProduct, second))

	got, err := repo.Get(ctx, model.EntityProduct, 10, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p-1", got.Remote())
	assert.Equal(t, "201", got.ResponseCode)

	var count int64
	require.NoError(t, db.Table(model.EntityProduct.SyncTable()).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 按主键更新
	got.ResponseCode = "200"
	require.NoError(t, repo.Save(ctx, model.EntityProduct, got))
	again, err := repo.Get(ctx, model.EntityProduct, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, "200", again.ResponseCode)

	// 其他实体的表互不影响
	missing, err := repo.Get(ctx, model.EntityCategory, 10, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSyncRecordRepository_FindByRemoteID(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewSyncRecordRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 10, StoreID: 1, RemoteID: model.StrPtr("p-1")}))

	rec, err := repo.FindByRemoteID(ctx, model.EntityProduct, 1, "p-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(10), rec.LocalID)

	rec, err = repo.FindByRemoteID(ctx, model.EntityProduct, 2, "p-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSyncRecordRepository_FlagOrphans(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewSyncRecordRepository(db)
	ctx := context.Background()
	seedProducts(t, db, 1, 10, 11, 12)

	for _, id := range []int64{10, 11, 12} {
		require.NoError(t, repo.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: id, StoreID: 1, RemoteID: model.StrPtr("r")}))
	}
	// 11 软删除，12 移出店铺
	require.NoError(t, db.Delete(&model.Product{BaseModel: model.BaseModel{ID: 11}}).Error)
	require.NoError(t, db.Where("product_id = ?", 12).Delete(&model.ProductStore{}).Error)

	n, err := repo.FlagOrphans(ctx, model.EntityProduct, 1, OrphanScope{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := repo.ListDeletePending(ctx, model.EntityProduct, 1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(11), pending[0].LocalID)
	assert.Equal(t, int64(12), pending[1].LocalID)

	// 再次执行不重复计数
	n, err = repo.FlagOrphans(ctx, model.EntityProduct, 1, OrphanScope{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSyncRecordRepository_FlagOrphansCategoryScope(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewSyncRecordRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&model.Category{BaseModel: model.BaseModel{ID: 5}, Name: "In", Path: "1/2/5"}).Error)
	require.NoError(t, db.Create(&model.Category{BaseModel: model.BaseModel{ID: 9}, Name: "Out", Path: "1/9"}).Error)
	require.NoError(t, repo.Save(ctx, model.EntityCategory, &model.SyncRecord{LocalID: 5, StoreID: 1}))
	require.NoError(t, repo.Save(ctx, model.EntityCategory, &model.SyncRecord{LocalID: 9, StoreID: 1}))

	// 没有根路径时不做判定
	n, err := repo.FlagOrphans(ctx, model.EntityCategory, 1, OrphanScope{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.FlagOrphans(ctx, model.EntityCategory, 1, OrphanScope{RootCategoryPath: "1/2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := repo.Get(ctx, model.EntityCategory, 9, 1)
	require.NoError(t, err)
	assert.True(t, rec.IsDeleted)
}

func TestSyncRecordRepository_ForceResyncAndFailed(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewSyncRecordRepository(db)
	ctx := context.Background()

	records := []*model.SyncRecord{
		{LocalID: 1, StoreID: 1, ResponseCode: "201"},
		{LocalID: 2, StoreID: 1, ResponseCode: "422"},
		{LocalID: 3, StoreID: 2, ResponseCode: "500"},
		{LocalID: 4, StoreID: 2, ResponseCode: "0"},
		{LocalID: 5, StoreID: 2, ResponseCode: "404", IsDeleted: true},
	}
	for _, rec := range records {
		require.NoError(t, repo.Save(ctx, model.EntityOrder, rec))
	}

	failed, err := repo.ListFailed(ctx, model.EntityOrder, FailedThreshold)
	require.NoError(t, err)
	assert.Equal(t, map[int64][]int64{1: {2}, 2: {3}}, failed)

	n, err := repo.ForceResync(ctx, model.EntityOrder, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rec, err := repo.Get(ctx, model.EntityOrder, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "000", rec.ResponseCode)

	// 哨兵不算失败
	failed, err = repo.ListFailed(ctx, model.EntityOrder, FailedThreshold)
	require.NoError(t, err)
	assert.Equal(t, map[int64][]int64{2: {3}}, failed)
}

func TestSyncRecordRepository_DeleteByStoreAndStats(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewSyncRecordRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 1, StoreID: 1, RemoteID: model.StrPtr("a"), ResponseCode: "201"}))
	require.NoError(t, repo.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 2, StoreID: 1, ResponseCode: "422"}))
	require.NoError(t, repo.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 3, StoreID: 1, IsDeleted: true}))
	require.NoError(t, repo.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 1, StoreID: 3, ResponseCode: "201"}))

	st, err := repo.Stats(ctx, model.EntityProduct, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(1), st.Synced)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.DeletePending)

	ids, err := repo.StoreIDs(ctx, model.EntityProduct)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	n, err := repo.DeleteByStore(ctx, model.EntityProduct, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	ids, err = repo.StoreIDs(ctx, model.EntityProduct)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids)
}

// ==================== 候选选择 ====================

func TestCatalogRepository_ProductCandidates(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	catalog := NewCatalogRepository(db)
	records := NewSyncRecordRepository(db)
	flags := NewFlagRepository(db)
	ctx := context.Background()
	seedProducts(t, db, 1, 10, 11, 12, 13)
	seedProducts(t, db, 2, 20)

	assert.Equal(t, []int64{10, 11, 12, 13}, candidateIDs(t, catalog, 1))

	// 11 已标记，12 已标记但带哨兵，13 已删除
	require.NoError(t, flags.SetSynced(ctx, model.EntityProduct, 1, []int64{11, 12}, true))
	require.NoError(t, records.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 12, StoreID: 1, ResponseCode: "000"}))
	require.NoError(t, records.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 13, StoreID: 1, IsDeleted: true}))

	assert.Equal(t, []int64{10, 12}, candidateIDs(t, catalog, 1))

	// 标记按店铺区分
	assert.Equal(t, []int64{20}, candidateIDs(t, catalog, 2))

	// 本地变更清除标记后重新进入候选
	require.NoError(t, flags.MarkDirty(ctx, model.EntityProduct, 11))
	assert.Equal(t, []int64{10, 11, 12}, candidateIDs(t, catalog, 1))
}

func TestCatalogRepository_ProductCandidatesLeastRecentFirst(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	catalog := NewCatalogRepository(db)
	records := NewSyncRecordRepository(db)
	ctx := context.Background()
	seedProducts(t, db, 1, 10, 11, 12, 13)

	// 10、11 反复失败，11 最近一次更早；12、13 从未尝试
	older := time.Now().Add(-time.Hour)
	newer := time.Now().Add(-time.Minute)
	require.NoError(t, records.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 10, StoreID: 1, ResponseCode: "503", SyncedAt: &newer}))
	require.NoError(t, records.Save(ctx, model.EntityProduct, &model.SyncRecord{LocalID: 11, StoreID: 1, ResponseCode: "503", SyncedAt: &older}))

	assert.Equal(t, []int64{12, 13, 11, 10}, candidateIDs(t, catalog, 1))

	batch, err := catalog.ListProductCandidates(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(12), batch[0].ID)
	assert.Equal(t, int64(13), batch[1].ID)
}

func TestCatalogRepository_ParentLinks(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	catalog := NewCatalogRepository(db)
	ctx := context.Background()
	seedProducts(t, db, 1, 20, 21)
	require.NoError(t, db.Create(&model.Product{BaseModel: model.BaseModel{ID: 30}, SKU: "CFG-30", Name: "C", TypeID: model.ProductTypeConfigurable}).Error)
	require.NoError(t, db.Create(&model.Product{BaseModel: model.BaseModel{ID: 31}, SKU: "BND-31", Name: "B", TypeID: model.ProductTypeBundle}).Error)
	require.NoError(t, db.Create(&model.ProductRelation{ParentID: 30, ChildID: 20}).Error)
	require.NoError(t, db.Create(&model.ProductRelation{ParentID: 31, ChildID: 21}).Error)

	links, err := catalog.ParentLinks(ctx, []int64{20, 21})
	require.NoError(t, err)
	require.Len(t, links[20], 1)
	assert.Equal(t, int64(30), links[20][0].ID)
	// bundle 不是变体父级
	assert.Empty(t, links[21])

	children, err := catalog.ChildIDs(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, children)
}

func TestCatalogRepository_CategoryCandidatesParentFirst(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	catalog := NewCatalogRepository(db)
	ctx := context.Background()
	cats := []model.Category{
		{BaseModel: model.BaseModel{ID: 2}, Name: "Default", Path: "1/2", Level: 1},
		{BaseModel: model.BaseModel{ID: 8}, Name: "Shirts", Path: "1/2/5/8", Level: 3},
		{BaseModel: model.BaseModel{ID: 5}, Name: "Men", Path: "1/2/5", Level: 2},
		{BaseModel: model.BaseModel{ID: 9}, Name: "Other", Path: "1/9", Level: 1},
	}
	require.NoError(t, db.Create(&cats).Error)

	list, err := catalog.ListCategoryCandidates(ctx, 1, "1/2", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(5), list[0].ID)
	assert.Equal(t, int64(8), list[1].ID)

	ids, err := catalog.DescendantIDs(ctx, "1/2/5")
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, ids)
}
