package service

import (
	"context"
	"testing"

	"storesync_v1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipService_AddSyncsDependenciesOnDemand(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	env.addCategory(t, 5, 2, "Men", "1/2/5", 2)
	env.addProduct(t, 10, model.ProductTypeSimple)
	require.NoError(t, env.db.Create(&model.CategoryProduct{CategoryID: 5, ProductID: 10}).Error)

	sum, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Selected)
	assert.Equal(t, 1, sum.Succeeded)

	collection := env.record(t, model.EntityCategory, 5).Remote()
	product := env.record(t, model.EntityProduct, 10).Remote()
	require.NotEmpty(t, collection)
	require.NotEmpty(t, product)

	adds := env.remote.callsTo("POST", "collections/"+collection+"/products")
	require.Len(t, adds, 1)
	assert.Equal(t, product, nested(adds[0].Body, "product", "id"))

	rows, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Synced)
	assert.Equal(t, collection, *rows[0].RemoteCollectionID)
	assert.Equal(t, product, *rows[0].RemoteProductID)
}

func TestMembershipService_ConflictMeansAlreadyAdded(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	env.addCategory(t, 5, 2, "Men", "1/2/5", 2)
	env.addProduct(t, 10, model.ProductTypeSimple)
	require.NoError(t, env.db.Create(&model.CategoryProduct{CategoryID: 5, ProductID: 10}).Error)
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityCategory, &model.SyncRecord{
		LocalID: 5, StoreID: testStoreID, RemoteID: model.StrPtr("c-5"), ResponseCode: "201",
	}))
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityProduct, &model.SyncRecord{
		LocalID: 10, StoreID: testStoreID, RemoteID: model.StrPtr("p-10"), ResponseCode: "201",
	}))
	env.remote.on("POST", "collections/c-5/products", 409, `{"error":"already a member"}`)

	sum, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 0, sum.Failed)

	rows, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Synced)
	assert.Equal(t, "409", rows[0].ResponseCode)
}

func TestMembershipService_RemoveTreatsNotFoundAsDone(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	env.addCategory(t, 5, 2, "Men", "1/2/5", 2)
	env.addProduct(t, 10, model.ProductTypeSimple)
	require.NoError(t, env.engine.Members.InsertPending(ctx, []model.CollectionMembership{{
		CategoryID: 5, ProductID: 10, StoreID: testStoreID,
		RemoteCollectionID: model.StrPtr("c-5"), RemoteProductID: model.StrPtr("p-10"),
		Synced: true, ResponseCode: "201",
	}}))
	env.remote.on("DELETE", "collections/c-5/products", 404, `{"error":"not a member"}`)

	// 本地已无分类-商品关系，核对后置删除并远端移除
	sum, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Deleted)

	rows, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsDeleted)
	assert.True(t, rows[0].IsDeletedRemote)
	assert.Len(t, env.remote.callsTo("DELETE", "collections/c-5/products"), 1)

	// 删除单调：之后不再触达远端
	before := env.remote.apiCalls()
	_, err = env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, before, env.remote.apiCalls())
}

func TestMembershipService_RemoveWithoutRemoteIsLocal(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Members.InsertPending(ctx, []model.CollectionMembership{{
		CategoryID: 5, ProductID: 10, StoreID: testStoreID,
	}}))

	sum, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, 0, env.remote.apiCalls())
}

func TestMembershipService_VariantsAreNotMembers(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	env.addCategory(t, 5, 2, "Men", "1/2/5", 2)
	env.addProduct(t, 20, model.ProductTypeSimple)
	env.addProduct(t, 30, model.ProductTypeConfigurable)
	require.NoError(t, env.db.Create(&model.ProductRelation{ParentID: 30, ChildID: 20}).Error)
	require.NoError(t, env.db.Create(&model.CategoryProduct{CategoryID: 5, ProductID: 20}).Error)
	require.NoError(t, env.db.Create(&model.CategoryProduct{CategoryID: 5, ProductID: 30}).Error)

	_, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)

	rows, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(30), rows[0].ProductID)
}

func TestMembershipService_ReaddAfterRemoval(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	env.addCategory(t, 5, 2, "Men", "1/2/5", 2)
	env.addProduct(t, 10, model.ProductTypeSimple)
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityCategory, &model.SyncRecord{
		LocalID: 5, StoreID: testStoreID, RemoteID: model.StrPtr("c-5"), ResponseCode: "201",
	}))
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityProduct, &model.SyncRecord{
		LocalID: 10, StoreID: testStoreID, RemoteID: model.StrPtr("p-10"), ResponseCode: "201",
	}))
	require.NoError(t, env.engine.Members.InsertPending(ctx, []model.CollectionMembership{{
		CategoryID: 5, ProductID: 10, StoreID: testStoreID,
		RemoteCollectionID: model.StrPtr("c-5"), RemoteProductID: model.StrPtr("p-10"),
		Synced: true, IsDeleted: true, IsDeletedRemote: true, ResponseCode: "200",
	}}))
	require.NoError(t, env.db.Create(&model.CategoryProduct{CategoryID: 5, ProductID: 10}).Error)
	before, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	sum, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Len(t, env.remote.callsTo("POST", "collections/c-5/products"), 1)

	// 墓碑行被新行替换，不会被改回未删除
	rows, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEqual(t, before[0].ID, rows[0].ID)
	assert.False(t, rows[0].IsDeleted)
	assert.True(t, rows[0].Synced)
}

func TestMembershipService_PendingRemovalReaddedGetsFreshRow(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	env.addCategory(t, 5, 2, "Men", "1/2/5", 2)
	env.addProduct(t, 10, model.ProductTypeSimple)
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityCategory, &model.SyncRecord{
		LocalID: 5, StoreID: testStoreID, RemoteID: model.StrPtr("c-5"), ResponseCode: "201",
	}))
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityProduct, &model.SyncRecord{
		LocalID: 10, StoreID: testStoreID, RemoteID: model.StrPtr("p-10"), ResponseCode: "201",
	}))
	// 移除尚未发往远端
	require.NoError(t, env.engine.Members.InsertPending(ctx, []model.CollectionMembership{{
		CategoryID: 5, ProductID: 10, StoreID: testStoreID,
		RemoteCollectionID: model.StrPtr("c-5"), RemoteProductID: model.StrPtr("p-10"),
		Synced: true, IsDeleted: true, ResponseCode: "201",
	}}))
	require.NoError(t, env.db.Create(&model.CategoryProduct{CategoryID: 5, ProductID: 10}).Error)
	env.remote.on("POST", "collections/c-5/products", 409, `{"error":"already a member"}`)

	sum, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Empty(t, env.remote.callsTo("DELETE", "collections/c-5/products"))

	rows, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsDeleted)
	assert.True(t, rows[0].Synced)
	assert.Equal(t, "409", rows[0].ResponseCode)
}

func TestMembershipService_RetryResendsTerminalRows(t *testing.T) {
	env := setupSyncEnv(t)
	ctx := context.Background()
	env.addCategory(t, 5, 2, "Men", "1/2/5", 2)
	env.addProduct(t, 10, model.ProductTypeSimple)
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityCategory, &model.SyncRecord{
		LocalID: 5, StoreID: testStoreID, RemoteID: model.StrPtr("c-5"), ResponseCode: "201",
	}))
	require.NoError(t, env.engine.Records.Save(ctx, model.EntityProduct, &model.SyncRecord{
		LocalID: 10, StoreID: testStoreID, RemoteID: model.StrPtr("p-10"), ResponseCode: "201",
	}))
	require.NoError(t, env.db.Create(&model.CategoryProduct{CategoryID: 5, ProductID: 10}).Error)
	// 422 在终止列表内，上次运行后已置 synced
	require.NoError(t, env.engine.Members.InsertPending(ctx, []model.CollectionMembership{{
		CategoryID: 5, ProductID: 10, StoreID: testStoreID, Synced: true, ResponseCode: "422",
	}}))

	// 正常运行不再发送
	sum, err := env.engine.Membership.Run(ctx, testStoreID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Succeeded)
	assert.Empty(t, env.remote.callsTo("POST", "collections/c-5/products"))

	summaries, err := env.reset.RetryFailed(ctx, model.EntityMembership)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Succeeded)
	assert.Len(t, env.remote.callsTo("POST", "collections/c-5/products"), 1)

	rows, err := env.engine.Members.ListByStore(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Synced)
	assert.Equal(t, "201", rows[0].ResponseCode)

	failed, err := env.engine.Members.ListFailed(ctx, "400")
	require.NoError(t, err)
	assert.Empty(t, failed)
}
