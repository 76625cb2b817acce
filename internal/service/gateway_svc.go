package service

import (
	"context"
	"fmt"
	"net/url"

	"storesync_v1/pkg/net"

	"go.uber.org/zap"
)

// maxAuthAttempts 首次请求 + 刷新令牌后重放一次
const maxAuthAttempts = 2

// Gateway 同步网关，所有实体处理器共用
type Gateway interface {
	Sync(ctx context.Context, storeID int64, method, endpoint string, payload interface{}, query url.Values) net.Result
}

// SyncGateway 组合 传输层 + 网络重试 + 令牌管理
type SyncGateway struct {
	cfg       *StoreConfigService
	tokens    TokenProvider
	transport net.Transport
	retry     net.RetryPolicy
	log       *zap.Logger
}

var _ Gateway = (*SyncGateway)(nil)

// NewSyncGateway 创建同步网关
func NewSyncGateway(cfg *StoreConfigService, tokens TokenProvider, transport net.Transport, retry net.RetryPolicy, log *zap.Logger) *SyncGateway {
	return &SyncGateway{
		cfg:       cfg,
		tokens:    tokens,
		transport: transport,
		retry:     retry,
		log:       log.Named("gateway"),
	}
}

// Sync 发送一次同步调用
// 401/403 时强制刷新令牌并重放一次；第二次鉴权失败直接返回
func (g *SyncGateway) Sync(ctx context.Context, storeID int64, method, endpoint string, payload interface{}, query url.Values) net.Result {
	baseURL, err := g.cfg.GetString(ctx, storeID, PathAPIBaseURL, "")
	if err != nil {
		return net.TransportFailure(err.Error())
	}
	if baseURL == "" {
		return net.TransportFailure(fmt.Sprintf("店铺 %d 未配置 %s", storeID, PathAPIBaseURL))
	}
	appKey, err := g.cfg.GetString(ctx, storeID, PathAPIAppKey, "")
	if err != nil {
		return net.TransportFailure(err.Error())
	}

	var res net.Result
	for attempt := 1; attempt <= maxAuthAttempts; attempt++ {
		token, err := g.tokens.GetToken(ctx, storeID, attempt > 1)
		if err != nil {
			return net.TransportFailure(fmt.Sprintf("获取令牌失败: %v", err))
		}

		opts := net.RequestOptions{Body: payload, Query: query}.WithAuth(appKey, token)
		res = g.retry.Do(ctx, func() net.Result {
			return g.transport.Execute(ctx, method, baseURL, endpoint, opts)
		})
		if res.Class() != net.ClassInvalidAuth {
			return res
		}
		g.log.Warn("鉴权失败",
			zap.Int64("store_id", storeID),
			zap.String("endpoint", endpoint),
			zap.Int("status", res.Status),
			zap.Int("attempt", attempt))
	}
	return res
}
