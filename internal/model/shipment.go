package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shipment 订单发货记录
type Shipment struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	OrderID   int64           `gorm:"index;not null"`
	CreatedAt time.Time       `gorm:"index"`
	Items     []ShipmentItem  `gorm:"foreignKey:ShipmentID"`
	Tracks    []ShipmentTrack `gorm:"foreignKey:ShipmentID"`
}

func (*Shipment) TableName() string {
	return "shipments"
}

// ShipmentItem 发货行，对应订单行
type ShipmentItem struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	ShipmentID  int64 `gorm:"index;not null"`
	OrderItemID int64
	ProductID   int64
	Qty         decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
}

func (*ShipmentItem) TableName() string {
	return "shipment_items"
}

// ShipmentTrack 物流单号
type ShipmentTrack struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ShipmentID  int64  `gorm:"index;not null"`
	CarrierCode string `gorm:"size:64"`
	Title       string `gorm:"size:255"`
	TrackNumber string `gorm:"size:255"`
}

func (*ShipmentTrack) TableName() string {
	return "shipment_tracks"
}
