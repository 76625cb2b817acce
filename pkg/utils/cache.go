package utils

import (
	"strconv"
	"sync"
	"time"
)

// StoreCache 按店铺分区的短 TTL 缓存
// 用于父子 ID 查询、属性 ID 等运行期记忆，避免跨运行的状态泄漏
type StoreCache struct {
	ttl   time.Duration
	items sync.Map
	now   func() time.Time
}

// cacheItem 内部结构，包含值和过期时间
type cacheItem struct {
	value      interface{}
	expiration time.Time
}

// NewStoreCache 创建缓存，ttl<=0 时默认 10 分钟
func NewStoreCache(ttl time.Duration) *StoreCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StoreCache{ttl: ttl, now: time.Now}
}

func storeKey(storeID int64, key string) string {
	return strconv.FormatInt(storeID, 10) + "|" + key
}

// Set 设置缓存
func (c *StoreCache) Set(storeID int64, key string, value interface{}) {
	c.items.Store(storeKey(storeID, key), cacheItem{
		value:      value,
		expiration: c.now().Add(c.ttl),
	})
}

// Get 获取缓存并验证是否过期
func (c *StoreCache) Get(storeID int64, key string) (interface{}, bool) {
	k := storeKey(storeID, key)
	val, ok := c.items.Load(k)
	if !ok {
		return nil, false
	}

	item := val.(cacheItem)
	if c.now().After(item.expiration) {
		c.items.Delete(k) // 懒删除
		return nil, false
	}
	return item.value, true
}

// GetString 字符串便捷读取
func (c *StoreCache) GetString(storeID int64, key string) (string, bool) {
	v, ok := c.Get(storeID, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Delete 删除单个键
func (c *StoreCache) Delete(storeID int64, key string) {
	c.items.Delete(storeKey(storeID, key))
}

// PurgeStore 清空某店铺的全部缓存 (重置同步时调用)
func (c *StoreCache) PurgeStore(storeID int64) {
	prefix := strconv.FormatInt(storeID, 10) + "|"
	c.items.Range(func(k, _ interface{}) bool {
		if s, ok := k.(string); ok && len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			c.items.Delete(k)
		}
		return true
	})
}
