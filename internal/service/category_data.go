package service

import (
	"context"
	"fmt"
	"strings"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/utils"
)

const categoryNameCacheKey = "category_name:"

// CategoryDataAdapter 分类 → 远端 collection 结构
// 名称按完整路径命名 "父/子"，店铺根分类及其祖先不计入
type CategoryDataAdapter struct {
	catalog repository.CatalogRepository
	cache   *utils.StoreCache
}

func NewCategoryDataAdapter(catalog repository.CatalogRepository, cache *utils.StoreCache) *CategoryDataAdapter {
	return &CategoryDataAdapter{catalog: catalog, cache: cache}
}

// Remember 把本批已加载的分类名称放入缓存，减少祖先查询
func (a *CategoryDataAdapter) Remember(storeID int64, cats []model.Category) {
	for _, c := range cats {
		a.cache.Set(storeID, categoryNameCacheKey+idString(c.ID), c.Name)
	}
}

// NamePath 计算分类的完整名称路径
func (a *CategoryDataAdapter) NamePath(ctx context.Context, storeID int64, c *model.Category, rootPath string) (string, error) {
	ids := relativePathIDs(c, rootPath)
	names := make(map[int64]string, len(ids))
	var missing []int64
	for _, id := range ids {
		if id == c.ID {
			names[id] = c.Name
			continue
		}
		if name, ok := a.cache.GetString(storeID, categoryNameCacheKey+idString(id)); ok {
			names[id] = name
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := a.catalog.GetCategories(ctx, missing)
		if err != nil {
			return "", fmt.Errorf("加载祖先分类失败: %w", err)
		}
		a.Remember(storeID, loaded)
		for _, l := range loaded {
			names[l.ID] = l.Name
		}
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok && name != "" {
			parts = append(parts, strings.TrimSpace(name))
		}
	}
	return strings.Join(parts, "/"), nil
}

// Payload collection 请求体
func (a *CategoryDataAdapter) Payload(ctx context.Context, storeID int64, c *model.Category, rootPath string) (map[string]interface{}, error) {
	name, err := a.NamePath(ctx, storeID, c, rootPath)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"collection": map[string]interface{}{
			"external_id": idString(c.ID),
			"name":        name,
			"is_active":   c.IsActive,
			"position":    c.Position,
		},
	}, nil
}

// relativePathIDs 去掉根路径前缀后的 ID 链
func relativePathIDs(c *model.Category, rootPath string) []int64 {
	ids := c.PathIDs()
	if rootPath == "" {
		return ids
	}
	root := (&model.Category{Path: rootPath}).PathIDs()
	if len(root) <= len(ids) {
		match := true
		for i := range root {
			if ids[i] != root[i] {
				match = false
				break
			}
		}
		if match {
			return ids[len(root):]
		}
	}
	return ids
}
