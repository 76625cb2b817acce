package service

import (
	"storesync_v1/internal/model"
)

// ProductDataAdapter 商品 → 远端 product / variant 结构
type ProductDataAdapter struct {
	Product []FieldMapping
	Variant []FieldMapping
}

func NewProductDataAdapter() *ProductDataAdapter {
	return &ProductDataAdapter{Product: ProductFieldMappings, Variant: VariantFieldMappings}
}

// Mappings 运行上下文需要预读配置的全部条目
func (a *ProductDataAdapter) Mappings() []FieldMapping {
	out := make([]FieldMapping, 0, len(a.Product)+len(a.Variant))
	out = append(out, a.Product...)
	return append(out, a.Variant...)
}

// ProductPayload 根商品请求体
func (a *ProductDataAdapter) ProductPayload(p *model.Product, mc *MappingContext) map[string]interface{} {
	fields := Apply(a.Product, p, mc)
	fields["is_discontinued"] = false
	fields["is_active"] = p.Status == model.ProductStatusEnabled
	return map[string]interface{}{"product": fields}
}

// VariantPayload 变体请求体
func (a *ProductDataAdapter) VariantPayload(p *model.Product, mc *MappingContext) map[string]interface{} {
	fields := Apply(a.Variant, p, mc)
	fields["is_discontinued"] = false
	fields["is_active"] = p.Status == model.ProductStatusEnabled
	return map[string]interface{}{"variant": fields}
}

// DiscontinuePayload 删除即下架
func DiscontinuePayload(variant bool) map[string]interface{} {
	key := "product"
	if variant {
		key = "variant"
	}
	return map[string]interface{}{key: map[string]interface{}{"is_discontinued": true}}
}
