package repository

import (
	"context"
	"errors"
	"testing"

	"storesync_v1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ==================== 集合成员关系 ====================

func TestMembershipRepository_InsertPendingIgnoresExisting(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewMembershipRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.InsertPending(ctx, []model.CollectionMembership{
		{CategoryID: 5, ProductID: 10, StoreID: 1, RemoteCollectionID: model.StrPtr("c-5"), Synced: true, ResponseCode: "201"},
	}))
	// 同一键再次插入不覆盖已有状态
	require.NoError(t, repo.InsertPending(ctx, []model.CollectionMembership{
		{CategoryID: 5, ProductID: 10, StoreID: 1},
		{CategoryID: 5, ProductID: 11, StoreID: 1},
	}))

	rows, err := repo.ListByCategory(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Synced)
	assert.Equal(t, "201", rows[0].ResponseCode)
	assert.False(t, rows[1].Synced)

	pending, err := repo.ListPending(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(11), pending[0].ProductID)
}

func TestMembershipRepository_RemovalsComeFirst(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewMembershipRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.InsertPending(ctx, []model.CollectionMembership{
		{CategoryID: 5, ProductID: 10, StoreID: 1},
		{CategoryID: 5, ProductID: 11, StoreID: 1},
	}))

	rows, err := repo.ListByCategory(ctx, 1, 5)
	require.NoError(t, err)
	n, err := repo.MarkDeleted(ctx, []int64{rows[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := repo.ListPending(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(11), pending[0].ProductID)
	assert.True(t, pending[0].IsDeleted)

	// 删除标记单调
	n, err = repo.MarkDeleted(ctx, []int64{rows[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMembershipRepository_CategoryDeleteAndRecreate(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewMembershipRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.InsertPending(ctx, []model.CollectionMembership{
		{CategoryID: 5, ProductID: 10, StoreID: 1, Synced: true, ResponseCode: "201"},
		{CategoryID: 5, ProductID: 11, StoreID: 1, Synced: true, ResponseCode: "201"},
		{CategoryID: 6, ProductID: 10, StoreID: 1, Synced: true, ResponseCode: "201"},
	}))

	n, err := repo.MarkDeletedForCategory(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	open, err := repo.CountOpenDeletes(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), open)

	rows, err := repo.ListByCategory(ctx, 1, 5)
	require.NoError(t, err)
	rows[0].IsDeletedRemote = true
	rows[0].Synced = true
	rows[0].ResponseCode = "200"
	require.NoError(t, repo.Save(ctx, &rows[0]))

	open, err = repo.CountOpenDeletes(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), open)

	// 重新加入：删除墓碑行，插入新行，删除标记不回退
	n, err = repo.Recreate(ctx, []int64{rows[0].ID, rows[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	old, err := repo.GetByIDs(ctx, 1, []int64{rows[0].ID, rows[1].ID})
	require.NoError(t, err)
	assert.Empty(t, old)

	fresh, err := repo.ListByCategory(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	for _, row := range fresh {
		assert.NotEqual(t, rows[0].ID, row.ID)
		assert.NotEqual(t, rows[1].ID, row.ID)
		assert.False(t, row.IsDeleted)
		assert.False(t, row.IsDeletedRemote)
		assert.False(t, row.Synced)
		assert.Empty(t, row.ResponseCode)
	}

	// 未删除的行不受影响
	n, err = repo.Recreate(ctx, []int64{fresh[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMembershipRepository_FailedAndStats(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewMembershipRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.InsertPending(ctx, []model.CollectionMembership{
		{CategoryID: 5, ProductID: 10, StoreID: 1, Synced: true, ResponseCode: "201"},
		{CategoryID: 5, ProductID: 11, StoreID: 1, ResponseCode: "503"},
		{CategoryID: 5, ProductID: 12, StoreID: 2, Synced: true, ResponseCode: "400"},
		// 添加时 409 与移除时 404 已对账为完成
		{CategoryID: 5, ProductID: 13, StoreID: 1, Synced: true, ResponseCode: "409",
			RemoteCollectionID: model.StrPtr("c-5"), RemoteProductID: model.StrPtr("p-13")},
		{CategoryID: 5, ProductID: 14, StoreID: 1, Synced: true, ResponseCode: "404",
			IsDeleted: true, IsDeletedRemote: true},
	}))

	failed, err := repo.ListFailed(ctx, FailedThreshold)
	require.NoError(t, err)
	assert.Len(t, failed[1], 1)
	assert.Len(t, failed[2], 1)

	st, err := repo.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Total)
	assert.Equal(t, int64(2), st.Synced)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.Pending)

	ids, err := repo.StoreIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	n, err := repo.DeleteByStore(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ==================== 成员关系来源 ====================

func TestCatalogRepository_CategoryPairsSkipVariantChildren(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	catalog := NewCatalogRepository(db)
	ctx := context.Background()
	seedProducts(t, db, 1, 10, 20)
	require.NoError(t, db.Create(&model.Product{BaseModel: model.BaseModel{ID: 30}, SKU: "CFG-30", Name: "C", TypeID: model.ProductTypeConfigurable}).Error)
	require.NoError(t, db.Create(&model.ProductStore{ProductID: 30, StoreID: 1}).Error)
	require.NoError(t, db.Create(&model.ProductRelation{ParentID: 30, ChildID: 20}).Error)
	require.NoError(t, db.Create(&[]model.Category{
		{BaseModel: model.BaseModel{ID: 5}, Name: "Men", Path: "1/2/5", Level: 2},
		{BaseModel: model.BaseModel{ID: 9}, Name: "Other", Path: "1/9", Level: 1},
	}).Error)
	require.NoError(t, db.Create(&[]model.CategoryProduct{
		{CategoryID: 5, ProductID: 10},
		{CategoryID: 5, ProductID: 20},
		{CategoryID: 5, ProductID: 30},
		{CategoryID: 9, ProductID: 10},
	}).Error)

	pairs, err := catalog.CategoryPairsInStore(ctx, 1, "1/2")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, int64(10), pairs[0].ProductID)
	assert.Equal(t, int64(30), pairs[1].ProductID)

	// 其他店铺没有分配关系
	pairs, err = catalog.CategoryPairsInStore(ctx, 2, "1/2")
	require.NoError(t, err)
	assert.Empty(t, pairs)

	ids, err := catalog.CategoryIDsOfProduct(ctx, 10, "1/2")
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids)
}

// ==================== 调度记录 ====================

func TestJobRepository_Lifecycle(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job, err := repo.Enqueue(ctx, model.EntityProduct.JobCode(), 1)
	require.NoError(t, err)
	require.NoError(t, repo.Start(ctx, job.ID, "run-1"))
	require.NoError(t, repo.Finish(ctx, job.ID, model.JobStatusSuccess, "ok"))

	// 已开始的任务不能再次开始
	err = repo.Start(ctx, job.ID, "run-2")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	list, err := repo.ListRecent(ctx, model.EntityProduct.JobCode(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.JobStatusSuccess, list[0].Status)
	assert.Equal(t, "run-1", list[0].RunID)
	assert.NotNil(t, list[0].FinishedAt)
}

func TestJobRepository_CancelledJobCannotStart(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	code := model.EntityOrder.JobCode()

	a, err := repo.Enqueue(ctx, code, 1)
	require.NoError(t, err)
	b, err := repo.Enqueue(ctx, code, 2)
	require.NoError(t, err)

	storeID := int64(1)
	n, err := repo.CancelPending(ctx, code, &storeID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.True(t, errors.Is(repo.Start(ctx, a.ID, "run"), gorm.ErrRecordNotFound))
	assert.NoError(t, repo.Start(ctx, b.ID, "run"))

	// 运行中的任务不受取消影响
	n, err = repo.CancelPending(ctx, code, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// ==================== 配置 ====================

func TestConfigRepository_GetSetDelete(t *testing.T) {
	db := setupSyncRepoTestDB(t)
	repo := NewConfigRepository(db)
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, 1, "sync/api/base_url")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Set(ctx, 1, "sync/api/base_url", "https://a.example"))
	require.NoError(t, repo.Set(ctx, 1, "sync/api/base_url", "https://b.example"))
	v, ok, err := repo.Get(ctx, 1, "sync/api/base_url")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://b.example", v)

	list, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, 1, "sync/api/base_url"))
	_, ok, err = repo.Get(ctx, 1, "sync/api/base_url")
	require.NoError(t, err)
	assert.False(t, ok)
}
