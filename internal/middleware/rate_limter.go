package middleware

import (
	"fmt"
	"sync"
	"time"
)

// ==================== SyncRateLimiter 手动触发冷却 ====================

// SyncRateLimiter 手动同步的冷却控制
// 同一 key 同时只放行一个请求，冷却从请求成功结束时开始计算
// 失败的请求不进入冷却，操作员可以立即重试
type SyncRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*cooldown
	now     func() time.Time
}

type cooldown struct {
	inFlight bool
	until    time.Time
}

func NewSyncRateLimiter() *SyncRateLimiter {
	return &SyncRateLimiter{entries: make(map[string]*cooldown), now: time.Now}
}

var globalLimiter = NewSyncRateLimiter()

// GetLimiter 获取全局限流器
func GetLimiter() *SyncRateLimiter {
	return globalLimiter
}

// Admission 放行结果
type Admission struct {
	Allowed    bool
	InFlight   bool          // 同一 key 的请求尚未结束
	RetryAfter time.Duration // 剩余冷却时间
}

// Begin 没有进行中的请求且冷却已结束时放行，并登记为进行中
// 放行后必须调用 Finish
func (r *SyncRateLimiter) Begin(key string) Admission {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &cooldown{}
		r.entries[key] = e
	}
	if e.inFlight {
		return Admission{InFlight: true}
	}
	if wait := e.until.Sub(r.now()); wait > 0 {
		return Admission{RetryAfter: wait}
	}
	e.inFlight = true
	return Admission{Allowed: true}
}

// Finish 结束进行中的请求，succeeded 时开始 interval 冷却
func (r *SyncRateLimiter) Finish(key string, succeeded bool, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.inFlight = false
	if succeeded {
		e.until = r.now().Add(interval)
	}
}

// Reset 清除冷却，进行中的请求不受影响
func (r *SyncRateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.until = time.Time{}
		if !e.inFlight {
			delete(r.entries, key)
		}
	}
}

// ==================== Key ====================

// StoreSyncKey 店铺 + 实体维度
func StoreSyncKey(storeID int64, entity string) string {
	return fmt.Sprintf("store:%d:%s", storeID, entity)
}

// GlobalSyncKey 全局操作 (重置、重试)
func GlobalSyncKey(action string) string {
	return fmt.Sprintf("global:%s", action)
}

// DefaultInterval 未配置冷却时间时使用
const DefaultInterval = 5 * time.Minute
