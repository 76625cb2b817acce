package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"storesync_v1/internal/model"
	"storesync_v1/pkg/net"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ==================== CatalogRepository 商品/分类仓库 ====================

// CatalogRepository 本地商品与分类读取
type CatalogRepository interface {
	// 商品
	ListProductCandidates(ctx context.Context, storeID int64, limit int) ([]model.Product, error)
	GetProducts(ctx context.Context, ids []int64) ([]model.Product, error)
	ProductsInStore(ctx context.Context, storeID int64, ids []int64) (map[int64]bool, error)
	ParentLinks(ctx context.Context, childIDs []int64) (map[int64][]model.Product, error)
	ChildIDs(ctx context.Context, parentID int64) ([]int64, error)

	// 分类
	GetCategory(ctx context.Context, id int64) (*model.Category, error)
	GetCategories(ctx context.Context, ids []int64) ([]model.Category, error)
	ListCategoryCandidates(ctx context.Context, storeID int64, rootPath string, limit int) ([]model.Category, error)
	CategoryIDsOfProduct(ctx context.Context, productID int64, rootPath string) ([]int64, error)
	CategoryPairsInStore(ctx context.Context, storeID int64, rootPath string) ([]model.CategoryProduct, error)
	DescendantIDs(ctx context.Context, path string) ([]int64, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository 创建商品/分类仓库
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// ListProductCandidates 已分配到店铺且未标记同步的商品
// 从未尝试的优先，其余按上次尝试时间从早到晚，反复失败的商品不会占满每一批
func (r *catalogRepository) ListProductCandidates(ctx context.Context, storeID int64, limit int) ([]model.Product, error) {
	var list []model.Product
	q := r.db.WithContext(ctx).
		Joins("JOIN product_stores ps ON ps.product_id = products.id AND ps.store_id = ?", storeID).
		Joins(fmt.Sprintf("LEFT JOIN %s sr ON sr.local_id = products.id AND sr.store_id = ?", model.EntityProduct.SyncTable()), storeID).
		Where(candidateWhere(model.EntityProduct, "products.id", storeID)).
		Order("CASE WHEN sr.synced_at IS NULL THEN 0 ELSE 1 END, sr.synced_at ASC, products.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return list, q.Find(&list).Error
}

// GetProducts 按 ID 读取未删除商品，保持入参顺序
func (r *catalogRepository) GetProducts(ctx context.Context, ids []int64) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []model.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Product, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}
	out := make([]model.Product, 0, len(list))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok && !seen[id] {
			out = append(out, p)
			seen[id] = true
		}
	}
	return out, nil
}

func (r *catalogRepository) ProductsInStore(ctx context.Context, storeID int64, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []int64
	err := r.db.WithContext(ctx).Model(&model.ProductStore{}).
		Where("store_id = ? AND product_id IN ?", storeID, ids).
		Pluck("product_id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// ParentLinks 子商品 → 可作为父级的 configurable/grouped 商品 (按父 ID 升序)
func (r *catalogRepository) ParentLinks(ctx context.Context, childIDs []int64) (map[int64][]model.Product, error) {
	out := make(map[int64][]model.Product)
	if len(childIDs) == 0 {
		return out, nil
	}

	var rels []model.ProductRelation
	if err := r.db.WithContext(ctx).Where("child_id IN ?", childIDs).Find(&rels).Error; err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return out, nil
	}

	parentIDs := make([]int64, 0, len(rels))
	for _, rel := range rels {
		parentIDs = append(parentIDs, rel.ParentID)
	}
	var parents []model.Product
	err := r.db.WithContext(ctx).
		Where("id IN ? AND type_id IN ?", parentIDs, []string{model.ProductTypeConfigurable, model.ProductTypeGrouped}).
		Find(&parents).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Product, len(parents))
	for _, p := range parents {
		byID[p.ID] = p
	}

	for _, rel := range rels {
		if p, ok := byID[rel.ParentID]; ok {
			out[rel.ChildID] = append(out[rel.ChildID], p)
		}
	}
	for child := range out {
		list := out[child]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return out, nil
}

func (r *catalogRepository) ChildIDs(ctx context.Context, parentID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.ProductRelation{}).
		Where("parent_id = ?", parentID).
		Order("child_id ASC").
		Pluck("child_id", &ids).Error
	return ids, err
}

// ==================== 分类 ====================

func (r *catalogRepository) GetCategory(ctx context.Context, id int64) (*model.Category, error) {
	var c model.Category
	err := r.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *catalogRepository) GetCategories(ctx context.Context, ids []int64) ([]model.Category, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []model.Category
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("level ASC, id ASC").Find(&list).Error
	return list, err
}

// ListCategoryCandidates 店铺根分类下未标记同步的分类，父级优先
func (r *catalogRepository) ListCategoryCandidates(ctx context.Context, storeID int64, rootPath string, limit int) ([]model.Category, error) {
	var list []model.Category
	q := r.db.WithContext(ctx).
		Where("path LIKE ?", rootPath+"/%").
		Where(candidateWhere(model.EntityCategory, "categories.id", storeID)).
		Order("level ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return list, q.Find(&list).Error
}

func (r *catalogRepository) CategoryIDsOfProduct(ctx context.Context, productID int64, rootPath string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Table("category_products cp").
		Joins("JOIN categories c ON c.id = cp.category_id AND c.deleted_at IS NULL").
		Where("cp.product_id = ? AND c.path LIKE ?", productID, rootPath+"/%").
		Order("cp.category_id ASC").
		Pluck("cp.category_id", &ids).Error
	return ids, err
}

// CategoryPairsInStore 店铺内应存在的 (分类, 根商品) 成员关系
// 作为变体挂在父商品下的子商品不单独加入集合
func (r *catalogRepository) CategoryPairsInStore(ctx context.Context, storeID int64, rootPath string) ([]model.CategoryProduct, error) {
	var pairs []model.CategoryProduct
	err := r.db.WithContext(ctx).Table("category_products cp").
		Select("cp.category_id, cp.product_id, cp.position").
		Joins("JOIN categories c ON c.id = cp.category_id AND c.deleted_at IS NULL").
		Joins("JOIN products p ON p.id = cp.product_id AND p.deleted_at IS NULL").
		Joins("JOIN product_stores ps ON ps.product_id = cp.product_id AND ps.store_id = ?", storeID).
		Where("c.path LIKE ?", rootPath+"/%").
		Where(`NOT EXISTS (SELECT 1 FROM product_relations pr JOIN products pp ON pp.id = pr.parent_id
			WHERE pr.child_id = cp.product_id AND pp.deleted_at IS NULL AND pp.type_id IN ?)`,
			[]string{model.ProductTypeConfigurable, model.ProductTypeGrouped}).
		Order("cp.category_id ASC, cp.product_id ASC").
		Scan(&pairs).Error
	return pairs, err
}

// DescendantIDs 指定路径下的全部后代分类
func (r *catalogRepository) DescendantIDs(ctx context.Context, path string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.Category{}).
		Where("path LIKE ?", path+"/%").
		Order("level ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ==================== 候选条件 ====================

const candidateClause = `(NOT EXISTS (SELECT 1 FROM sync_flags f WHERE f.entity_type = ? AND f.entity_id = %[1]s AND f.store_id = ? AND f.synced = ?)
	OR EXISTS (SELECT 1 FROM %[2]s s WHERE s.local_id = %[1]s AND s.store_id = ? AND s.response_code = ?))
	AND NOT EXISTS (SELECT 1 FROM %[2]s d WHERE d.local_id = %[1]s AND d.store_id = ? AND d.is_deleted = ?)`

// candidateWhere 未标记同步或带 "000" 哨兵，且未被标记删除
func candidateWhere(entity model.EntityType, idColumn string, storeID int64) clause.Expr {
	return gorm.Expr(fmt.Sprintf(candidateClause, idColumn, entity.SyncTable()),
		entity, storeID, true,
		storeID, net.ForcedResyncCode,
		storeID, true)
}
