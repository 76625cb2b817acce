package service

import (
	"context"
	"fmt"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"

	"github.com/shopspring/decimal"
)

// ==================== 可选客户能力 ====================

// CustomerEnricher 可选的客户数据补充，启动时决定是否注入
type CustomerEnricher interface {
	Enrich(ctx context.Context, order *model.Order, customer map[string]interface{}) error
}

// SubscriberEnricher 根据营销订阅补充 accepts_marketing
type SubscriberEnricher struct {
	repo repository.CustomerRepository
}

func NewSubscriberEnricher(repo repository.CustomerRepository) *SubscriberEnricher {
	return &SubscriberEnricher{repo: repo}
}

func (e *SubscriberEnricher) Enrich(ctx context.Context, order *model.Order, customer map[string]interface{}) error {
	if order.CustomerEmail == "" {
		return nil
	}
	sub, err := e.repo.FindSubscription(ctx, order.StoreID, order.CustomerEmail)
	if err != nil {
		return fmt.Errorf("查询订阅状态失败: %w", err)
	}
	customer["accepts_marketing"] = sub.Subscribed()
	if sub != nil {
		customer["marketing_updated_at"] = sub.ChangedAt.UTC().Format(time.RFC3339)
	}
	return nil
}

// ==================== 行项目聚合 ====================

// LineItem 按根商品聚合后的行
type LineItem struct {
	ProductID int64
	SKU       string
	Name      string
	Qty       decimal.Decimal
	Total     decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
}

// OrderDataAdapter 订单 → 远端 order 结构
type OrderDataAdapter struct {
	catalog  repository.CatalogRepository
	customer CustomerEnricher
}

// NewOrderDataAdapter customer 可为 nil
func NewOrderDataAdapter(catalog repository.CatalogRepository, customer CustomerEnricher) *OrderDataAdapter {
	return &OrderDataAdapter{catalog: catalog, customer: customer}
}

// ResolveRoots 商品 → 根商品 (取第一个 configurable/grouped 父级)
func (a *OrderDataAdapter) ResolveRoots(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	links, err := a.catalog.ParentLinks(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("查询父商品失败: %w", err)
	}
	roots := make(map[int64]int64, len(productIDs))
	for _, id := range productIDs {
		roots[id] = id
		if parents := links[id]; len(parents) > 0 {
			roots[id] = parents[0].ID
		}
	}
	return roots, nil
}

// AggregateLineItems 顶层行按根商品合并数量与金额
func AggregateLineItems(o *model.Order, roots map[int64]int64) []LineItem {
	byRoot := make(map[int64]*LineItem)
	var order []int64
	for _, it := range o.VisibleItems() {
		root, ok := roots[it.ProductID]
		if !ok {
			root = it.ProductID
		}
		li, ok := byRoot[root]
		if !ok {
			li = &LineItem{ProductID: root, SKU: it.SKU, Name: it.Name}
			byRoot[root] = li
			order = append(order, root)
		}
		li.Qty = li.Qty.Add(it.QtyOrdered)
		li.Total = li.Total.Add(it.RowTotal)
		li.Tax = li.Tax.Add(it.TaxAmount)
		li.Discount = li.Discount.Add(it.DiscountAmount)
	}
	out := make([]LineItem, 0, len(order))
	for _, id := range order {
		out = append(out, *byRoot[id])
	}
	return out
}

// ProductIDs 订单引用的全部商品 (含子行)
func ProductIDs(o *model.Order) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, it := range o.Items {
		if it.ProductID != 0 && !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	sortIDs(ids)
	return ids
}

// ==================== 请求体 ====================

// OrderPayloadInput 构建请求体所需的已解析数据
type OrderPayloadInput struct {
	Order         *model.Order
	Roots         map[int64]int64
	RemoteProduct map[int64]string
	FromShipments bool
}

func (a *OrderDataAdapter) Payload(ctx context.Context, in OrderPayloadInput) (map[string]interface{}, error) {
	o := in.Order
	lines := AggregateLineItems(o, in.Roots)

	items := make([]map[string]interface{}, 0, len(lines))
	for _, li := range lines {
		price := decimal.Zero
		if li.Qty.IsPositive() {
			price = li.Total.Div(li.Qty)
		}
		items = append(items, map[string]interface{}{
			"external_product_id": idString(li.ProductID),
			"product_id":          in.RemoteProduct[li.ProductID],
			"sku":                 li.SKU,
			"name":                li.Name,
			"quantity":            li.Qty.String(),
			"price":               money(price),
			"total":               money(li.Total),
			"total_tax":           money(li.Tax),
			"total_discount":      money(li.Discount),
		})
	}

	customer, err := a.customerPayload(ctx, o)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"external_id":      o.IncrementID,
		"name":             "#" + o.IncrementID,
		"email":            o.CustomerEmail,
		"currency":         o.CurrencyCode,
		"status":           o.Status,
		"subtotal":         money(o.Subtotal),
		"total_shipping":   money(o.ShippingAmount),
		"total_tax":        money(o.TaxAmount),
		"total_discounts":  money(o.DiscountAmount),
		"total_price":      money(o.GrandTotal),
		"coupon_code":      o.CouponCode,
		"created_at":       o.CreatedAt.UTC().Format(time.RFC3339),
		"customer":         customer,
		"line_items":       items,
		"fulfillments":     fulfillments(o, in),
		"billing_address":  addressPayload(o.Address(model.AddressTypeBilling)),
		"shipping_address": addressPayload(o.Address(model.AddressTypeShipping)),
	}
	if status := DerivePaymentStatus(o); status != "" {
		body["financial_status"] = status
	} else {
		body["financial_status"] = nil
	}
	return map[string]interface{}{"order": body}, nil
}

func (a *OrderDataAdapter) customerPayload(ctx context.Context, o *model.Order) (map[string]interface{}, error) {
	c := map[string]interface{}{
		"email":      o.CustomerEmail,
		"first_name": o.CustomerFirstname,
		"last_name":  o.CustomerLastname,
		"is_guest":   o.CustomerIsGuest,
	}
	if o.CustomerID != nil {
		c["external_id"] = idString(*o.CustomerID)
	}
	if a.customer != nil {
		if err := a.customer.Enrich(ctx, o, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func addressPayload(addr *model.OrderAddress) map[string]interface{} {
	if addr == nil {
		return nil
	}
	return map[string]interface{}{
		"first_name": addr.Firstname,
		"last_name":  addr.Lastname,
		"company":    addr.Company,
		"address1":   addr.Street,
		"city":       addr.City,
		"province":   addr.Region,
		"zip":        addr.Postcode,
		"country":    addr.CountryID,
		"phone":      addr.Telephone,
	}
}

// fulfillments 发货记录或订单状态二选一
func fulfillments(o *model.Order, in OrderPayloadInput) []map[string]interface{} {
	out := make([]map[string]interface{}, 0)
	if in.FromShipments {
		itemProduct := make(map[int64]int64, len(o.Items))
		for _, it := range o.Items {
			itemProduct[it.ID] = it.ProductID
		}
		for _, sh := range o.Shipments {
			qty := make(map[int64]decimal.Decimal)
			var keys []int64
			for _, si := range sh.Items {
				pid := si.ProductID
				if pid == 0 {
					pid = itemProduct[si.OrderItemID]
				}
				root, ok := in.Roots[pid]
				if !ok {
					root = pid
				}
				if _, seen := qty[root]; !seen {
					keys = append(keys, root)
				}
				qty[root] = qty[root].Add(si.Qty)
			}
			lines := make([]map[string]interface{}, 0, len(keys))
			for _, k := range keys {
				lines = append(lines, map[string]interface{}{
					"external_product_id": idString(k),
					"quantity":            qty[k].String(),
				})
			}
			tracking := make([]string, 0, len(sh.Tracks))
			company := ""
			for _, t := range sh.Tracks {
				tracking = append(tracking, t.TrackNumber)
				if company == "" {
					company = t.Title
				}
			}
			out = append(out, map[string]interface{}{
				"external_id":      idString(sh.ID),
				"status":           FulfillmentSuccess,
				"line_items":       lines,
				"tracking_numbers": tracking,
				"tracking_company": company,
				"created_at":       sh.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		return out
	}

	if status := statusFulfillment(o.Status); status != "" {
		out = append(out, map[string]interface{}{
			"external_id": o.IncrementID,
			"status":      status,
		})
	}
	return out
}
