package net

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetryDelay 固定重试间隔
const DefaultRetryDelay = time.Second

// DefaultMaxAttempts 默认最大尝试次数
const DefaultMaxAttempts = 3

// RetryPolicy 网络重试策略
// 仅在 429 / 5xx / 连接失败时重试，固定间隔，不做指数退避
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy 3 次，间隔 1 秒
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
}

// Retry 以默认间隔执行 fn，最多 maxAttempts 次
func Retry(ctx context.Context, fn func() Result, maxAttempts int) Result {
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: DefaultRetryDelay}.Do(ctx, fn)
}

// Do 执行请求函数
// 返回第一个非可重试结果；预算耗尽时返回最后一次结果
// fn 内 panic 视为连接层失败，最后一次尝试时其信息作为合成失败结果的 Body
func (p RetryPolicy) Do(ctx context.Context, fn func() Result) Result {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last Result
	for i := 1; i <= attempts; i++ {
		last = safeCall(fn)
		if !IsNetworkRetriable(last.Status) {
			return last
		}
		if i == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return TransportFailure(fmt.Sprintf("重试被取消: %v", ctx.Err()))
		case <-time.After(p.Delay):
		}
	}
	return last
}

func safeCall(fn func() Result) (r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r = TransportFailure(fmt.Sprint(rec))
		}
	}()
	return fn()
}
