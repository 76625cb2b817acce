package service

import (
	"strings"

	"storesync_v1/internal/model"

	"github.com/shopspring/decimal"
)

// 远端支付状态
const (
	PaymentPaid              = "paid"
	PaymentPartiallyPaid     = "partially_paid"
	PaymentPending           = "pending"
	PaymentAuthorized        = "authorized"
	PaymentRefunded          = "refunded"
	PaymentPartiallyRefunded = "partially_refunded"
)

// DerivePaymentStatus 按优先级自上而下判定，返回空串表示无法映射
func DerivePaymentStatus(o *model.Order) string {
	switch {
	case o.TotalDue.IsZero() && o.TotalPaid.Equal(o.TotalInvoiced):
		return PaymentPaid
	case o.TotalDue.IsPositive() && o.TotalPaid.IsPositive():
		return PaymentPartiallyPaid
	case strings.Contains(strings.ToLower(o.Status), model.OrderStatusPending) || o.GrandTotal.Equal(o.TotalDue):
		return PaymentPending
	case o.AmountAuthorized.IsPositive():
		return PaymentAuthorized
	}
	return refundStatus(o.VisibleItems())
}

func refundStatus(items []model.OrderItem) string {
	var refundable, fully, partial int
	for _, it := range items {
		if !it.QtyOrdered.IsPositive() {
			continue
		}
		refundable++
		switch {
		case it.QtyRefunded.GreaterThanOrEqual(it.QtyOrdered):
			fully++
		case it.QtyRefunded.IsPositive():
			partial++
		}
	}
	switch {
	case refundable == 0:
		return ""
	case fully == refundable:
		return PaymentRefunded
	case fully > 0 || partial > 0:
		return PaymentPartiallyRefunded
	}
	return ""
}

// 履约状态
const (
	FulfillmentSuccess   = "success"
	FulfillmentCancelled = "cancelled"
)

// statusFulfillment 由订单状态推导的单条履约，返回空串表示无履约
func statusFulfillment(status string) string {
	switch status {
	case model.OrderStatusComplete, model.OrderStatusClosed:
		return FulfillmentSuccess
	case model.OrderStatusCanceled:
		return FulfillmentCancelled
	}
	return ""
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
