package router

import (
	"net/http"
	"time"

	"storesync_v1/internal/controller"
	"storesync_v1/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Options 路由参数
type Options struct {
	// TriggerCooldown 手动触发的冷却时间
	TriggerCooldown time.Duration
}

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine, syncCtl *controller.SyncController, opts Options) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok"})
	})

	api := r.Group("/api/v1", middleware.JWTAuth(), middleware.AuditContext())
	{
		sync := api.Group("/sync")
		{
			// GET /api/v1/sync/status?store_id=
			sync.GET("/status", syncCtl.Status)
			// GET /api/v1/sync/jobs?entity=&limit=
			sync.GET("/jobs", syncCtl.Jobs)

			// 写操作需要 operator 以上角色
			ops := sync.Group("", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleOperator))
			{
				ops.POST("/retry", middleware.GlobalSyncRateLimit("retry", opts.TriggerCooldown), syncCtl.Retry)
				ops.POST("/:entity/:store_id", middleware.SyncRateLimit(opts.TriggerCooldown), syncCtl.Trigger)
			}

			// 重置不可逆，仅 admin
			sync.POST("/reset", middleware.RequireRole(middleware.RoleAdmin), syncCtl.Reset)
		}
	}
}
