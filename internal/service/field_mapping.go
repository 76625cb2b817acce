package service

import (
	"context"
	"regexp"
	"strings"

	"storesync_v1/internal/model"
)

// ==================== 字段映射 ====================

// FieldSource 映射条目的取值方式
type FieldSource int

const (
	// SourceAttribute 直接读取商品字段或自定义属性
	SourceAttribute FieldSource = iota
	// SourceGetter 计算值
	SourceGetter
	// SourceConfig 店铺配置值
	SourceConfig
)

// FieldValidator 对映射结果做规范化
type FieldValidator func(string) string

// FieldMapping 一条 "本地属性 → 远端字段" 映射
type FieldMapping struct {
	Field      string
	Source     FieldSource
	Attribute  string
	Getter     func(p *model.Product, mc *MappingContext) string
	ConfigPath string
	Validators []FieldValidator
	// OmitEmpty 为空时不输出该字段
	OmitEmpty bool
}

var (
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9]+`)
	nonDigitChars = regexp.MustCompile(`[^0-9]`)
)

func Lowercase(s string) string { return strings.ToLower(s) }

func Trim(s string) string { return strings.TrimSpace(s) }

// Slug 小写，非字母数字替换为 "-"
func Slug(s string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Digits 只保留数字 (GTIN 之类)
func Digits(s string) string {
	return nonDigitChars.ReplaceAllString(s, "")
}

// MaxLen 按字符截断
func MaxLen(n int) FieldValidator {
	return func(s string) string {
		r := []rune(s)
		if len(r) <= n {
			return s
		}
		return string(r[:n])
	}
}

// ==================== 映射上下文 ====================

// MappingContext 单次运行内的映射参数，每次运行构建一次
type MappingContext struct {
	StoreID   int64
	URLBase   string
	Currency  string
	Overrides map[string]string
	config    map[string]string
}

// BuildMappingContext 从店铺与配置读取映射参数
func BuildMappingContext(ctx context.Context, cfg *StoreConfigService, store *model.Store, mappings []FieldMapping) (*MappingContext, error) {
	mc := &MappingContext{
		StoreID:   store.ID,
		Overrides: make(map[string]string),
		config:    make(map[string]string),
	}
	var err error
	if mc.URLBase, err = cfg.GetString(ctx, store.ID, PathProductURLBase, store.BaseURL); err != nil {
		return nil, err
	}
	if mc.Currency, err = cfg.GetString(ctx, store.ID, PathProductCurrency, store.BaseCurrency); err != nil {
		return nil, err
	}
	for _, m := range mappings {
		if m.Source == SourceConfig && m.ConfigPath != "" {
			v, err := cfg.GetString(ctx, store.ID, m.ConfigPath, "")
			if err != nil {
				return nil, err
			}
			mc.config[m.ConfigPath] = v
		}
		// 店铺可把任意字段改映射到另一个属性编码
		override, err := cfg.GetString(ctx, store.ID, PathProductMappingPfx+m.Field, "")
		if err != nil {
			return nil, err
		}
		if override != "" {
			mc.Overrides[m.Field] = override
		}
	}
	return mc, nil
}

// productValue 商品固有字段优先，其次自定义属性
func productValue(p *model.Product, code string) string {
	switch code {
	case "sku":
		return p.SKU
	case "name":
		return p.Name
	case "description":
		return p.Description
	case "url_key":
		return p.URLKey
	case "image":
		return p.ImageURL
	case "price":
		return p.Price.StringFixed(2)
	}
	return p.Attr(code)
}

// Resolve 计算单个字段的值
func (m FieldMapping) Resolve(p *model.Product, mc *MappingContext) string {
	var v string
	if code, ok := mc.Overrides[m.Field]; ok {
		v = productValue(p, code)
	} else {
		switch m.Source {
		case SourceAttribute:
			v = productValue(p, m.Attribute)
		case SourceGetter:
			if m.Getter != nil {
				v = m.Getter(p, mc)
			}
		case SourceConfig:
			v = mc.config[m.ConfigPath]
		}
	}
	for _, fn := range m.Validators {
		v = fn(v)
	}
	return v
}

// Apply 按映射表输出远端字段
func Apply(mappings []FieldMapping, p *model.Product, mc *MappingContext) map[string]interface{} {
	out := make(map[string]interface{}, len(mappings))
	for _, m := range mappings {
		v := m.Resolve(p, mc)
		if v == "" && m.OmitEmpty {
			continue
		}
		out[m.Field] = v
	}
	return out
}

// ==================== 默认映射表 ====================

func productURL(p *model.Product, mc *MappingContext) string {
	if mc.URLBase == "" || p.URLKey == "" {
		return ""
	}
	return strings.TrimRight(mc.URLBase, "/") + "/" + p.URLKey
}

func productExternalID(p *model.Product, _ *MappingContext) string {
	return idString(p.ID)
}

func productCurrency(_ *model.Product, mc *MappingContext) string {
	return strings.ToUpper(mc.Currency)
}

// ProductFieldMappings 根商品映射表
var ProductFieldMappings = []FieldMapping{
	{Field: "external_id", Source: SourceGetter, Getter: productExternalID},
	{Field: "name", Source: SourceAttribute, Attribute: "name", Validators: []FieldValidator{Trim, MaxLen(255)}},
	{Field: "description", Source: SourceAttribute, Attribute: "description", OmitEmpty: true},
	{Field: "handle", Source: SourceAttribute, Attribute: "url_key", Validators: []FieldValidator{Slug}, OmitEmpty: true},
	{Field: "url", Source: SourceGetter, Getter: productURL, OmitEmpty: true},
	{Field: "image_url", Source: SourceAttribute, Attribute: "image", OmitEmpty: true},
	{Field: "sku", Source: SourceAttribute, Attribute: "sku", Validators: []FieldValidator{Trim}},
	{Field: "price", Source: SourceAttribute, Attribute: "price"},
	{Field: "currency", Source: SourceGetter, Getter: productCurrency, OmitEmpty: true},
	{Field: "brand", Source: SourceAttribute, Attribute: "brand", Validators: []FieldValidator{Trim}, OmitEmpty: true},
	{Field: "gtin", Source: SourceAttribute, Attribute: "gtin", Validators: []FieldValidator{Digits}, OmitEmpty: true},
	{Field: "mpn", Source: SourceAttribute, Attribute: "mpn", Validators: []FieldValidator{Trim}, OmitEmpty: true},
	{Field: "vendor", Source: SourceConfig, ConfigPath: "sync/product/vendor", OmitEmpty: true},
}

// VariantFieldMappings 变体映射表
var VariantFieldMappings = []FieldMapping{
	{Field: "external_id", Source: SourceGetter, Getter: productExternalID},
	{Field: "name", Source: SourceAttribute, Attribute: "name", Validators: []FieldValidator{Trim, MaxLen(255)}},
	{Field: "sku", Source: SourceAttribute, Attribute: "sku", Validators: []FieldValidator{Trim}},
	{Field: "price", Source: SourceAttribute, Attribute: "price"},
	{Field: "image_url", Source: SourceAttribute, Attribute: "image", OmitEmpty: true},
	{Field: "gtin", Source: SourceAttribute, Attribute: "gtin", Validators: []FieldValidator{Digits}, OmitEmpty: true},
	{Field: "color", Source: SourceAttribute, Attribute: "color", Validators: []FieldValidator{Lowercase, Trim}, OmitEmpty: true},
	{Field: "size", Source: SourceAttribute, Attribute: "size", Validators: []FieldValidator{Lowercase, Trim}, OmitEmpty: true},
}
