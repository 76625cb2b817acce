package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ==================== 同步限流中间件 ====================

// SyncRateLimit 按店铺 + 实体维度限流手动触发
// 成功响应后开始冷却，4xx/5xx 不计入
//
// 使用示例:
//
//	router.POST("/api/v1/sync/:entity/:store_id",
//	    middleware.SyncRateLimit(0),
//	    syncCtl.Trigger,
//	)
//
// interval 为 0 时使用 DefaultInterval
func SyncRateLimit(interval time.Duration) gin.HandlerFunc {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return func(c *gin.Context) {
		entity := c.Param("entity")
		storeIDStr := c.Param("store_id")
		if storeIDStr == "" {
			storeIDStr = c.Query("store_id")
		}

		var key string
		if storeIDStr != "" {
			storeID, err := strconv.ParseInt(storeIDStr, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    400,
					"message": "无效的店铺 ID",
				})
				c.Abort()
				return
			}
			key = StoreSyncKey(storeID, entity)
		} else {
			key = GlobalSyncKey(entity)
		}

		admit(c, key, interval)
	}
}

// GlobalSyncRateLimit 全局操作限流，如重试全部失败记录
func GlobalSyncRateLimit(action string, interval time.Duration) gin.HandlerFunc {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return func(c *gin.Context) {
		admit(c, GlobalSyncKey(action), interval)
	}
}

// admit 放行后执行后续处理器，按响应状态决定是否进入冷却
func admit(c *gin.Context, key string, interval time.Duration) {
	limiter := GetLimiter()
	adm := limiter.Begin(key)
	if !adm.Allowed {
		msg := formatRetryMessage(adm.RetryAfter)
		if adm.InFlight {
			msg = "同步正在执行，请稍后重试"
		}
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    429,
			"message": msg,
			"data": gin.H{
				"retry_after": int(adm.RetryAfter.Seconds()),
				"key":         key,
			},
		})
		c.Abort()
		return
	}

	succeeded := false
	defer func() { limiter.Finish(key, succeeded, interval) }()
	c.Next()
	succeeded = c.Writer.Status() < http.StatusBadRequest
}

// ==================== 辅助函数 ====================

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds())

	if seconds < 60 {
		return fmt.Sprintf("同步冷却中，请 %d 秒后重试", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60

	if remainingSeconds == 0 {
		return fmt.Sprintf("同步冷却中，请 %d 分钟后重试", minutes)
	}

	return fmt.Sprintf("同步冷却中，请 %d 分 %d 秒后重试", minutes, remainingSeconds)
}

// ResetSyncLimit 重置后允许立即重新触发
func ResetSyncLimit(storeID int64, entity string) {
	GetLimiter().Reset(StoreSyncKey(storeID, entity))
}
