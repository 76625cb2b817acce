package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ==================== 实体类型 ====================

// EntityType 同步实体类型，每种类型对应一张同步状态表
type EntityType string

const (
	EntityProduct    EntityType = "product"
	EntityCategory   EntityType = "category"
	EntityOrder      EntityType = "order"
	EntityMembership EntityType = "membership"
)

// AllEntityTypes 按依赖顺序排列
var AllEntityTypes = []EntityType{EntityCategory, EntityProduct, EntityMembership, EntityOrder}

// ParseEntityType 解析操作员输入
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityProduct, EntityCategory, EntityOrder, EntityMembership:
		return EntityType(s), nil
	}
	return "", fmt.Errorf("未知的实体类型: %q", s)
}

// SyncTable 同步状态表名
func (e EntityType) SyncTable() string {
	switch e {
	case EntityProduct:
		return "sync_products"
	case EntityCategory:
		return "sync_categories"
	case EntityOrder:
		return "sync_orders"
	case EntityMembership:
		return "sync_collection_products"
	}
	return ""
}

// SourceTable 本地源实体表名
func (e EntityType) SourceTable() string {
	switch e {
	case EntityProduct:
		return "products"
	case EntityCategory:
		return "categories"
	case EntityOrder:
		return "orders"
	case EntityMembership:
		return "category_products"
	}
	return ""
}

// JobCode 调度任务编码
func (e EntityType) JobCode() string {
	return "sync_" + string(e)
}

// ==================== SyncRecord 同步记录 ====================

// SyncRecord 单实体单店铺的同步状态
// 同一结构落在 sync_products / sync_categories / sync_orders 三张表，通过 db.Table() 选择
// (local_id, store_id) 唯一索引由迁移时按表名单独创建
type SyncRecord struct {
	ID      int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	LocalID int64 `gorm:"not null" json:"local_id"`
	StoreID int64 `gorm:"not null" json:"store_id"`

	RemoteID         *string `gorm:"size:64" json:"remote_id"`
	RemoteParentID   *string `gorm:"size:64" json:"remote_parent_id"`
	RemoteIDUnassign *string `gorm:"size:64" json:"remote_id_unassign"`

	// 最后一次尝试的响应码，"000" 为强制重同步哨兵，"0" 为连接层失败
	ResponseCode string         `gorm:"size:8;default:''" json:"response_code"`
	ResponseBody datatypes.JSON `json:"response_body,omitempty"`
	SyncedAt     *time.Time     `json:"synced_at"`

	IsDeleted       bool `gorm:"default:false" json:"is_deleted"`
	IsDeletedRemote bool `gorm:"default:false" json:"is_deleted_remote"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRemote 是否已有远端 ID
func (r *SyncRecord) HasRemote() bool {
	return r != nil && r.RemoteID != nil && *r.RemoteID != ""
}

// Remote 远端 ID，不存在时为空串
func (r *SyncRecord) Remote() string {
	if !r.HasRemote() {
		return ""
	}
	return *r.RemoteID
}

// RemoteParent 远端父 ID
func (r *SyncRecord) RemoteParent() string {
	if r == nil || r.RemoteParentID == nil {
		return ""
	}
	return *r.RemoteParentID
}

// PendingUnassign 是否有待解除关联的远端 ID
func (r *SyncRecord) PendingUnassign() bool {
	return r != nil && r.RemoteIDUnassign != nil && *r.RemoteIDUnassign != ""
}

// ==================== CollectionMembership 集合成员 ====================

// CollectionMembership 分类与商品的成员关系同步行
// 本地键为 (category_id, product_id, store_id)
type CollectionMembership struct {
	ID         int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CategoryID int64 `gorm:"not null;uniqueIndex:idx_membership_pair" json:"category_id"`
	ProductID  int64 `gorm:"not null;uniqueIndex:idx_membership_pair" json:"product_id"`
	StoreID    int64 `gorm:"not null;uniqueIndex:idx_membership_pair;index" json:"store_id"`

	RemoteCollectionID *string `gorm:"size:64" json:"remote_collection_id"`
	RemoteProductID    *string `gorm:"size:64" json:"remote_product_id"`

	ResponseCode string     `gorm:"size:8;default:''" json:"response_code"`
	SyncedAt     *time.Time `json:"synced_at"`
	// Synced 添加或移除已完成 (或响应码在终止列表内)
	Synced bool `gorm:"default:false;index" json:"synced"`

	IsDeleted       bool `gorm:"default:false" json:"is_deleted"`
	IsDeletedRemote bool `gorm:"default:false" json:"is_deleted_remote"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*CollectionMembership) TableName() string {
	return EntityMembership.SyncTable()
}

// ==================== SyncFlag 本地同步标记 ====================

// SyncFlag 源实体上的 "已同步" 标记
// 本地实体变更时由业务侧清除 (MarkDirty)，同步终止时由处理器置位
type SyncFlag struct {
	ID         int64      `gorm:"primaryKey;autoIncrement"`
	EntityType EntityType `gorm:"size:32;not null;uniqueIndex:idx_sync_flag"`
	EntityID   int64      `gorm:"not null;uniqueIndex:idx_sync_flag"`
	StoreID    int64      `gorm:"not null;uniqueIndex:idx_sync_flag"`
	Synced     bool       `gorm:"default:false"`
	UpdatedAt  time.Time
}

func (*SyncFlag) TableName() string {
	return "sync_flags"
}

// ==================== 辅助 ====================

// JSONBody 把响应体转换为可入库的 JSON
// 非 JSON 的响应 (连接错误信息等) 包装为 JSON 字符串
func JSONBody(body []byte) datatypes.JSON {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	wrapped, _ := json.Marshal(string(body))
	return datatypes.JSON(wrapped)
}

// StrPtr 字符串指针，空串返回 nil
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
