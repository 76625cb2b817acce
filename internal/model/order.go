package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ==================== 订单状态常量 ====================

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusComplete   = "complete"
	OrderStatusClosed     = "closed"
	OrderStatusCanceled   = "canceled"
	OrderStatusHolded     = "holded"
)

// ==================== Order 订单主表 ====================

// Order 本地订单
type Order struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	IncrementID string `gorm:"size:50;uniqueIndex;not null"`
	StoreID     int64  `gorm:"index;not null"`
	Status      string `gorm:"size:32;index;default:pending"`
	State       string `gorm:"size:32"`

	// 买家信息
	CustomerID        *int64
	CustomerEmail     string `gorm:"size:255"`
	CustomerFirstname string `gorm:"size:255"`
	CustomerLastname  string `gorm:"size:255"`
	CustomerIsGuest   bool   `gorm:"default:false"`

	// 金额
	CurrencyCode     string          `gorm:"size:10;default:USD"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	ShippingAmount   decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	TaxAmount        decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	DiscountAmount   decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	GrandTotal       decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	TotalPaid        decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	TotalDue         decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	TotalInvoiced    decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	TotalRefunded    decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	AmountAuthorized decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	CouponCode       string          `gorm:"size:64"`
	RemoteIP         string          `gorm:"size:64"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time

	// 关联
	Items     []OrderItem    `gorm:"foreignKey:OrderID"`
	Addresses []OrderAddress `gorm:"foreignKey:OrderID"`
	Shipments []Shipment     `gorm:"foreignKey:OrderID"`
}

func (*Order) TableName() string {
	return "orders"
}

// VisibleItems 顶层行项目 (无父行)
func (o *Order) VisibleItems() []OrderItem {
	out := make([]OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		if it.ParentItemID == nil {
			out = append(out, it)
		}
	}
	return out
}

// Address 按类型取地址
func (o *Order) Address(addrType string) *OrderAddress {
	for i := range o.Addresses {
		if o.Addresses[i].AddressType == addrType {
			return &o.Addresses[i]
		}
	}
	return nil
}

// ==================== OrderItem 订单行 ====================

// OrderItem 订单行项目
// configurable 商品会产生父行 + 子行 (子行 ParentItemID 指向父行)
type OrderItem struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	OrderID      int64  `gorm:"index;not null"`
	ParentItemID *int64 `gorm:"index"`
	ProductID    int64  `gorm:"index"`
	ProductType  string `gorm:"size:32"`
	SKU          string `gorm:"size:64"`
	Name         string `gorm:"size:255"`

	QtyOrdered  decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	QtyRefunded decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	QtyShipped  decimal.Decimal `gorm:"type:decimal(12,4);default:0"`

	Price          decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	RowTotal       decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,4);default:0"`
}

func (*OrderItem) TableName() string {
	return "order_items"
}

// ==================== OrderAddress 地址 ====================

const (
	AddressTypeBilling  = "billing"
	AddressTypeShipping = "shipping"
)

type OrderAddress struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	OrderID     int64  `gorm:"index;not null"`
	AddressType string `gorm:"size:16"`
	Firstname   string `gorm:"size:255"`
	Lastname    string `gorm:"size:255"`
	Company     string `gorm:"size:255"`
	Street      string `gorm:"size:512"`
	City        string `gorm:"size:255"`
	Region      string `gorm:"size:255"`
	Postcode    string `gorm:"size:32"`
	CountryID   string `gorm:"size:4"`
	Telephone   string `gorm:"size:64"`
}

func (*OrderAddress) TableName() string {
	return "order_addresses"
}
