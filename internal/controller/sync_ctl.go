package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"storesync_v1/internal/middleware"
	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/internal/service"
	"storesync_v1/internal/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncAdmin 重置、重试与统计
type SyncAdmin interface {
	ResetSync(ctx context.Context, entity model.EntityType, storeID *int64) (*service.ResetReport, error)
	RetryFailed(ctx context.Context, entity model.EntityType) ([]*service.RunSummary, error)
	Status(ctx context.Context, storeID *int64) ([]*repository.SyncStats, error)
}

// SyncTrigger 手动触发单店铺运行
type SyncTrigger interface {
	Trigger(ctx context.Context, entity model.EntityType, storeID int64) (*service.RunSummary, error)
}

// JobLister 调度记录查询
type JobLister interface {
	ListRecent(ctx context.Context, jobCode string, limit int) ([]model.JobSchedule, error)
}

// SyncController 同步控制器
type SyncController struct {
	admin   SyncAdmin
	trigger SyncTrigger
	jobs    JobLister
	log     *zap.Logger
}

// NewSyncController 创建同步控制器
func NewSyncController(admin SyncAdmin, trigger SyncTrigger, jobs JobLister, log *zap.Logger) *SyncController {
	return &SyncController{admin: admin, trigger: trigger, jobs: jobs, log: log.Named("sync_ctl")}
}

// ResetRequest 重置请求
type ResetRequest struct {
	// Entity product / category / membership / order / all
	Entity  string `json:"entity" binding:"required"`
	StoreID *int64 `json:"store_id"`
}

// ==================== Handler 实现 ====================

// Reset 重置同步状态
// @Summary 重置同步状态
// @Description 删除同步记录、清除同步标记并取消待执行任务，之后实体被视为从未同步
// @Tags Sync
// @Accept json
// @Produce json
// @Param body body ResetRequest true "实体与可选店铺"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 409 {object} map[string]interface{} "同步正在运行"
// @Router /api/v1/sync/reset [post]
func (c *SyncController) Reset(ctx *gin.Context) {
	var req ResetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误: " + err.Error()})
		return
	}

	entities, err := parseEntities(req.Entity)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}

	reports := make([]*service.ResetReport, 0, len(entities))
	for _, entity := range entities {
		report, err := c.admin.ResetSync(ctx.Request.Context(), entity, req.StoreID)
		if err != nil {
			c.fail(ctx, err)
			return
		}
		reports = append(reports, report)
		for _, sid := range report.Stores {
			middleware.ResetSyncLimit(sid, string(entity))
		}
	}

	c.log.Info("操作员重置同步状态",
		zap.Int64("operator_id", middleware.GetOperatorID(ctx)),
		zap.String("entity", req.Entity))

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "同步状态已重置",
		"data":    reports,
	})
}

// Retry 重试失败记录
// @Summary 重试失败记录
// @Description 响应码 >= 400 的记录按店铺重新处理，entity 为空时处理全部实体
// @Tags Sync
// @Produce json
// @Param entity query string false "实体类型"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/retry [post]
func (c *SyncController) Retry(ctx *gin.Context) {
	entities, err := parseEntities(ctx.DefaultQuery("entity", "all"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}

	var summaries []*service.RunSummary
	for _, entity := range entities {
		sums, err := c.admin.RetryFailed(ctx.Request.Context(), entity)
		if err != nil {
			c.fail(ctx, err)
			return
		}
		summaries = append(summaries, sums...)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "失败记录重试完成",
		"data":    summaries,
	})
}

// Trigger 立即同步单个店铺
// @Summary 手动同步单个店铺的一批数据
// @Tags Sync
// @Produce json
// @Param entity path string true "实体类型"
// @Param store_id path int true "店铺 ID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{} "同步正在运行"
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/{entity}/{store_id} [post]
func (c *SyncController) Trigger(ctx *gin.Context) {
	entity, err := model.ParseEntityType(ctx.Param("entity"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}
	storeID := parseID(ctx, "store_id")
	if storeID == 0 {
		return
	}

	sum, err := c.trigger.Trigger(ctx.Request.Context(), entity, storeID)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "同步完成",
		"data":    sum,
	})
}

// Status 同步统计
// @Summary 按店铺与实体统计同步状态
// @Tags Sync
// @Produce json
// @Param store_id query int false "店铺 ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/status [get]
func (c *SyncController) Status(ctx *gin.Context) {
	var storeID *int64
	if s := ctx.Query("store_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的店铺 ID"})
			return
		}
		storeID = &id
	}

	stats, err := c.admin.Status(ctx.Request.Context(), storeID)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok", "data": stats})
}

// Jobs 最近的调度记录
// @Summary 最近的调度记录
// @Tags Sync
// @Produce json
// @Param entity query string false "实体类型"
// @Param limit query int false "数量" default(50)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/jobs [get]
func (c *SyncController) Jobs(ctx *gin.Context) {
	jobCode := ""
	if e := ctx.Query("entity"); e != "" {
		entity, err := model.ParseEntityType(e)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
			return
		}
		jobCode = entity.JobCode()
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	list, err := c.jobs.ListRecent(ctx.Request.Context(), jobCode, limit)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok", "data": list})
}

// ==================== 工具函数 ====================

// fail 业务错误映射为 HTTP 状态
func (c *SyncController) fail(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownEntity):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrStoreBusy):
		status = http.StatusConflict
	case errors.Is(err, task.ErrTaskDisabled):
		status = http.StatusServiceUnavailable
	default:
		c.log.Error("同步接口出错", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, gin.H{"code": status, "message": err.Error()})
}

func parseEntities(s string) ([]model.EntityType, error) {
	if s == "all" {
		return model.AllEntityTypes, nil
	}
	entity, err := model.ParseEntityType(s)
	if err != nil {
		return nil, err
	}
	return []model.EntityType{entity}, nil
}

func parseID(ctx *gin.Context, key string) int64 {
	id, err := strconv.ParseInt(ctx.Param(key), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的 ID"})
		return 0
	}
	return id
}
