package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"storesync_v1/pkg/net"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrTokenMissing = errors.New("店铺未配置 API 凭证")

// TokenProvider 令牌提供者
type TokenProvider interface {
	GetToken(ctx context.Context, storeID int64, forceRefresh bool) (string, error)
}

// AuthService 访问令牌管理
// 令牌加密缓存在店铺配置中；同一店铺并发刷新只发起一次交换请求
type AuthService struct {
	cfg       *StoreConfigService
	transport net.Transport
	retry     net.RetryPolicy
	group     singleflight.Group
	log       *zap.Logger
}

// NewAuthService 工厂方法
func NewAuthService(cfg *StoreConfigService, transport net.Transport, retry net.RetryPolicy, log *zap.Logger) *AuthService {
	return &AuthService{
		cfg:       cfg,
		transport: transport,
		retry:     retry,
		log:       log.Named("auth"),
	}
}

// GetToken 获取令牌，forceRefresh 时忽略缓存重新交换
func (s *AuthService) GetToken(ctx context.Context, storeID int64, forceRefresh bool) (string, error) {
	if !forceRefresh {
		token, ok, err := s.cfg.GetSecret(ctx, storeID, PathAccessToken)
		if err != nil {
			s.log.Warn("读取缓存令牌失败，重新交换", zap.Int64("store_id", storeID), zap.Error(err))
		} else if ok && token != "" {
			return token, nil
		}
	}

	v, err, shared := s.group.Do(strconv.FormatInt(storeID, 10), func() (interface{}, error) {
		return s.refresh(ctx, storeID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.log.Debug("复用并发刷新结果", zap.Int64("store_id", storeID))
	}
	return v.(string), nil
}

// refresh 凭证交换：POST 令牌端点，请求体携带 secret
func (s *AuthService) refresh(ctx context.Context, storeID int64) (string, error) {
	baseURL, err := s.cfg.GetString(ctx, storeID, PathAPIBaseURL, "")
	if err != nil {
		return "", err
	}
	appKey, err := s.cfg.GetString(ctx, storeID, PathAPIAppKey, "")
	if err != nil {
		return "", err
	}
	secret, ok, err := s.cfg.GetSecret(ctx, storeID, PathAPISecret)
	if err != nil {
		return "", err
	}
	if baseURL == "" || !ok || secret == "" {
		return "", ErrTokenMissing
	}
	tokenPath, err := s.cfg.GetString(ctx, storeID, PathAPITokenPath, DefaultTokenPath)
	if err != nil {
		return "", err
	}

	body := map[string]string{"secret": secret}
	if appKey != "" {
		body["app_key"] = appKey
	}
	opts := net.JSON(body).WithAuth(appKey, "")
	res := s.retry.Do(ctx, func() net.Result {
		return s.transport.Execute(ctx, net.MethodPost, baseURL, tokenPath, opts)
	})
	if !res.IsSuccess {
		return "", fmt.Errorf("令牌交换失败: %s", res)
	}

	token := net.ExtractString(res.Body, "access_token")
	if token == "" {
		return "", fmt.Errorf("令牌交换响应缺少 access_token")
	}
	if err := s.cfg.SetSecret(ctx, storeID, PathAccessToken, token); err != nil {
		return "", fmt.Errorf("保存令牌失败: %w", err)
	}

	s.log.Info("令牌已刷新", zap.Int64("store_id", storeID))
	return token, nil
}
