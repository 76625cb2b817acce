package net

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Transport 网络传输层 (通用组件)
// Execute 永远不返回 error：HTTP 非 2xx 原样返回，连接层失败转换为 Status=0 的结果
type Transport interface {
	Execute(ctx context.Context, method, baseURL, path string, opts RequestOptions) Result
}

// TransportConfig 传输层配置
type TransportConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64 // <=0 表示不限速
	Burst             int
	UserAgent         string
	Debug             bool
}

// DefaultTransportConfig 默认配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout:   20 * time.Second,
		Burst:     1,
		UserAgent: "storesync/1.0",
	}
}

// restyTransport 是 Transport 接口的具体实现
// 注意：它是私有的，外部只能通过 NewTransport 获取接口
type restyTransport struct {
	client  *resty.Client
	limiter *rate.Limiter
}

var _ Transport = (*restyTransport)(nil)

func NewTransport(cfg TransportConfig) Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	client := resty.New().
		SetDebug(cfg.Debug).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0) // 重试由 RetryPolicy 统一负责
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	t := &restyTransport{client: client}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t
}

// NewTransportWithClient 复用外部 resty 客户端 (测试用)
func NewTransportWithClient(client *resty.Client) Transport {
	return &restyTransport{client: client}
}

// Execute 发送单次请求
func (t *restyTransport) Execute(ctx context.Context, method, baseURL, path string, opts RequestOptions) Result {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return TransportFailure(fmt.Sprintf("rate limiter: %v", err))
		}
	}

	req := t.client.R().SetContext(ctx)
	if len(opts.Headers) > 0 {
		req.SetHeaders(opts.Headers)
	}
	if len(opts.Query) > 0 {
		req.SetQueryParamsFromValues(opts.Query)
	}
	if opts.Body != nil {
		req.SetBody(opts.Body)
	}

	resp, err := req.Execute(method, JoinURL(baseURL, path))
	if err != nil {
		return TransportFailure(err.Error())
	}

	return Result{
		Status:    resp.StatusCode(),
		Body:      resp.Body(),
		IsSuccess: resp.StatusCode() >= 200 && resp.StatusCode() < 300,
	}
}

// JoinURL 拼接 baseURL 与资源路径
func JoinURL(baseURL, path string) string {
	if path == "" {
		return baseURL
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
