package model

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ==================== 商品类型常量 ====================

const (
	ProductTypeSimple       = "simple"
	ProductTypeConfigurable = "configurable"
	ProductTypeGrouped      = "grouped"
	ProductTypeVirtual      = "virtual"
	ProductTypeBundle       = "bundle"
)

// 商品状态
const (
	ProductStatusEnabled  = 1
	ProductStatusDisabled = 2
)

// ==================== Product 商品 ====================

// Product 本地商品 (全局，通过 product_stores 分配到店铺)
type Product struct {
	BaseModel
	SKU         string          `gorm:"size:64;uniqueIndex;not null"`
	Name        string          `gorm:"size:255;not null"`
	TypeID      string          `gorm:"size:32;default:simple;index"`
	Status      int             `gorm:"default:1"`
	Description string          `gorm:"type:text"`
	URLKey      string          `gorm:"size:255"`
	ImageURL    string          `gorm:"size:512"`
	Price       decimal.Decimal `gorm:"type:decimal(12,4);default:0"`

	// 自定义属性 (brand / gtin / mpn / color ...)
	Attributes datatypes.JSONMap
}

func (*Product) TableName() string {
	return "products"
}

// IsParentType 可作为变体父级的类型
func (p *Product) IsParentType() bool {
	return p.TypeID == ProductTypeConfigurable || p.TypeID == ProductTypeGrouped
}

// Attr 读取自定义属性的字符串值
func (p *Product) Attr(code string) string {
	if p.Attributes == nil {
		return ""
	}
	switch v := p.Attributes[code].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// ProductStore 商品与店铺的分配关系
type ProductStore struct {
	ProductID int64 `gorm:"primaryKey"`
	StoreID   int64 `gorm:"primaryKey"`
}

func (*ProductStore) TableName() string {
	return "product_stores"
}

// ProductRelation 父子商品关系 (configurable / grouped)
type ProductRelation struct {
	ParentID int64 `gorm:"primaryKey"`
	ChildID  int64 `gorm:"primaryKey;index"`
}

func (*ProductRelation) TableName() string {
	return "product_relations"
}

// ==================== Category 分类 ====================

// Category 树形分类，Path 为祖先 ID 链 "1/2/5"
type Category struct {
	BaseModel
	ParentID int64  `gorm:"index"`
	Name     string `gorm:"size:255;not null"`
	Path     string `gorm:"size:255;index"`
	Level    int    `gorm:"default:0"`
	Position int    `gorm:"default:0"`
	IsActive bool   `gorm:"default:true"`
}

func (*Category) TableName() string {
	return "categories"
}

// PathIDs 解析 Path 中的祖先 ID (含自身)
func (c *Category) PathIDs() []int64 {
	parts := strings.Split(c.Path, "/")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// CategoryProduct 分类下的商品
type CategoryProduct struct {
	CategoryID int64 `gorm:"primaryKey"`
	ProductID  int64 `gorm:"primaryKey;index"`
	Position   int   `gorm:"default:0"`
}

func (*CategoryProduct) TableName() string {
	return "category_products"
}
