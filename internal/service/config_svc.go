package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/utils"
)

// ==================== 配置路径 ====================

const (
	PathAPIBaseURL   = "api/base_url"
	PathAPIAppKey    = "api/app_key"
	PathAPISecret    = "api/secret"
	PathAPITokenPath = "api/token_path"
	PathAccessToken  = "auth/access_token"

	PathTerminalCodes     = "sync/terminal_codes"
	PathProductURLBase    = "sync/product/url_base"
	PathProductCurrency   = "sync/product/currency"
	PathProductMappingPfx = "sync/product/mapping/"

	PathOrderStartDate         = "sync/order/start_date"
	PathOrderShipmentFulfilled = "sync/order/fulfillment_from_shipments"
)

// 默认值
const (
	DefaultTokenPath     = "access_tokens"
	DefaultTerminalCodes = "400,422"
)

// PathEntityEnabled 实体同步开关
func PathEntityEnabled(entity model.EntityType) string {
	return "sync/" + string(entity) + "/enabled"
}

// ==================== StoreConfigService ====================

// StoreConfigService 店铺级配置读取/写入
// 查找顺序：店铺 → 默认作用域 (store 0) → 调用方默认值
type StoreConfigService struct {
	repo repository.ConfigRepository
	box  *utils.SecretBox
}

// NewStoreConfigService box 为 nil 时敏感值以明文存储
func NewStoreConfigService(repo repository.ConfigRepository, box *utils.SecretBox) *StoreConfigService {
	return &StoreConfigService{repo: repo, box: box}
}

// Get 按作用域回退读取
func (s *StoreConfigService) Get(ctx context.Context, storeID int64, path string) (string, bool, error) {
	v, ok, err := s.repo.Get(ctx, storeID, path)
	if err != nil {
		return "", false, fmt.Errorf("读取配置 %s 失败: %w", path, err)
	}
	if ok || storeID == model.DefaultScopeStoreID {
		return v, ok, nil
	}
	v, ok, err = s.repo.Get(ctx, model.DefaultScopeStoreID, path)
	if err != nil {
		return "", false, fmt.Errorf("读取默认配置 %s 失败: %w", path, err)
	}
	return v, ok, nil
}

func (s *StoreConfigService) GetString(ctx context.Context, storeID int64, path, def string) (string, error) {
	v, ok, err := s.Get(ctx, storeID, path)
	if err != nil {
		return def, err
	}
	if !ok || v == "" {
		return def, nil
	}
	return v, nil
}

func (s *StoreConfigService) GetBool(ctx context.Context, storeID int64, path string, def bool) (bool, error) {
	v, ok, err := s.Get(ctx, storeID, path)
	if err != nil || !ok || v == "" {
		return def, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return def, fmt.Errorf("配置 %s 不是布尔值: %q", path, v)
	}
	return b, nil
}

// GetList 逗号分隔列表
func (s *StoreConfigService) GetList(ctx context.Context, storeID int64, path, def string) ([]string, error) {
	v, err := s.GetString(ctx, storeID, path, def)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetTime 支持 2006-01-02 与 RFC3339
func (s *StoreConfigService) GetTime(ctx context.Context, storeID int64, path string) (*time.Time, error) {
	v, err := s.GetString(ctx, storeID, path, "")
	if err != nil || v == "" {
		return nil, err
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, perr := time.Parse(layout, v); perr == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("配置 %s 不是合法日期: %q", path, v)
}

func (s *StoreConfigService) Set(ctx context.Context, storeID int64, path, value string) error {
	return s.repo.Set(ctx, storeID, path, value)
}

// GetSecret 读取并解密
func (s *StoreConfigService) GetSecret(ctx context.Context, storeID int64, path string) (string, bool, error) {
	v, ok, err := s.Get(ctx, storeID, path)
	if err != nil || !ok || v == "" {
		return "", false, err
	}
	if s.box == nil {
		return v, true, nil
	}
	plain, err := s.box.Decrypt(v)
	if err != nil {
		return "", false, fmt.Errorf("解密配置 %s 失败: %w", path, err)
	}
	return plain, true, nil
}

// SetSecret 加密后写入
func (s *StoreConfigService) SetSecret(ctx context.Context, storeID int64, path, plain string) error {
	value := plain
	if s.box != nil {
		enc, err := s.box.Encrypt(plain)
		if err != nil {
			return err
		}
		value = enc
	}
	return s.repo.Set(ctx, storeID, path, value)
}

// TerminalCodes "不再重试" 的响应码集合
func (s *StoreConfigService) TerminalCodes(ctx context.Context, storeID int64) (TerminalSet, error) {
	codes, err := s.GetList(ctx, storeID, PathTerminalCodes, DefaultTerminalCodes)
	if err != nil {
		return nil, err
	}
	set := make(TerminalSet, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set, nil
}

// EntityEnabled 实体同步开关，默认开启
func (s *StoreConfigService) EntityEnabled(ctx context.Context, storeID int64, entity model.EntityType) (bool, error) {
	return s.GetBool(ctx, storeID, PathEntityEnabled(entity), true)
}
