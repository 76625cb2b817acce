package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/net"

	"go.uber.org/zap"
)

// ==================== 处理器契约 ====================

// Processor 单实体类型的批处理器
// ids 为空时按候选规则选批次并先执行删除清理；非空时只处理这些本地 ID
type Processor interface {
	Entity() model.EntityType
	Run(ctx context.Context, storeID int64, ids []int64) (*RunSummary, error)
}

// ProductSyncer 按需同步指定商品
type ProductSyncer interface {
	SyncProducts(ctx context.Context, storeID int64, ids []int64) error
}

// CategorySyncer 按需同步指定分类
type CategorySyncer interface {
	SyncCategories(ctx context.Context, storeID int64, ids []int64) error
}

// ProcessorOptions 批处理参数
type ProcessorOptions struct {
	BatchSize  int
	SweepLimit int
}

func (o ProcessorOptions) withDefaults() ProcessorOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.SweepLimit <= 0 {
		o.SweepLimit = o.BatchSize
	}
	return o
}

// RunSummary 单次运行统计
type RunSummary struct {
	Entity     model.EntityType `json:"entity"`
	StoreID    int64            `json:"store_id"`
	RunID      string           `json:"run_id"`
	Selected   int              `json:"selected"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Deferred   int              `json:"deferred"`
	Retried    int              `json:"retried"`
	Deleted    int              `json:"deleted"`
	Unassigned int              `json:"unassigned"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
}

func newSummary(entity model.EntityType, storeID int64, runID string) *RunSummary {
	return &RunSummary{Entity: entity, StoreID: storeID, RunID: runID, StartedAt: time.Now()}
}

func (s *RunSummary) finish() *RunSummary {
	s.Duration = time.Since(s.StartedAt)
	return s
}

func (s *RunSummary) fields() []zap.Field {
	return []zap.Field{
		zap.Int("selected", s.Selected),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("deferred", s.Deferred),
		zap.Int("retried", s.Retried),
		zap.Int("deleted", s.Deleted),
		zap.Int("unassigned", s.Unassigned),
		zap.Duration("duration", s.Duration),
	}
}

// ==================== 资格判定 ====================

// Eligibility 同步资格判定结果
type Eligibility int

const (
	Eligible Eligibility = iota
	EligibleForced
	SkipDeleted
	SkipUnassignPending
	SkipSynced
)

func (e Eligibility) CanSync() bool {
	return e == Eligible || e == EligibleForced
}

func (e Eligibility) String() string {
	switch e {
	case Eligible:
		return "eligible"
	case EligibleForced:
		return "eligible_forced"
	case SkipDeleted:
		return "skip_deleted"
	case SkipUnassignPending:
		return "skip_unassign_pending"
	default:
		return "skip_synced"
	}
}

// DecideEligibility 按固定优先级判定，先命中者生效：
//  1. is_deleted=1                 → 不再 upsert (删除单调)
//  2. 存在待解除关联的远端 ID      → 等待清理阶段
//  3. response_code = "000"        → 强制重同步 (保留 remote_id，走 PATCH)
//  4. 调用方显式指定 (重试/按需)   → 同步
//  5. 本地未标记已同步             → 同步
//  6. 其他                         → 跳过
//
// 终止码在结果写入时决定是否置位同步标记，不参与资格判定
func DecideEligibility(rec *model.SyncRecord, flagged, forced bool) Eligibility {
	if rec != nil {
		if rec.IsDeleted {
			return SkipDeleted
		}
		if rec.PendingUnassign() {
			return SkipUnassignPending
		}
		if net.IsForcedResync(rec.ResponseCode) {
			return EligibleForced
		}
	}
	if forced {
		return EligibleForced
	}
	if !flagged {
		return Eligible
	}
	return SkipSynced
}

// TerminalSet "不再重试" 的响应码
type TerminalSet map[string]bool

// Contains 响应码是否在终止列表
func (t TerminalSet) Contains(code string) bool {
	return t[code]
}

// ==================== 结果写入辅助 ====================

// applyResult 把调用结果写到记录上 (不保存)
func applyResult(rec *model.SyncRecord, res net.Result) {
	now := time.Now()
	rec.ResponseCode = res.Code()
	rec.ResponseBody = model.JSONBody(res.Body)
	rec.SyncedAt = &now
}

// shouldFlag 结果是否终止：成功或终止码
func shouldFlag(res net.Result, terminal TerminalSet) bool {
	return res.IsSuccess || terminal.Contains(res.Code())
}

// isRecoverable 可在本次运行内再试一次的结果
func isRecoverable(res net.Result) bool {
	c := res.Class()
	return c == net.ClassNetworkRetriable || c == net.ClassInvalidAuth
}

// guard 单条处理的 panic 隔离，异常只跳过当前条目；返回 false 表示已计入失败
func guard(log *zap.Logger, sum *RunSummary, kind string, id int64, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sum.Failed++
			ok = false
			log.Error("处理异常，跳过当前条目",
				zap.String("kind", kind),
				zap.Int64("id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		sum.Failed++
		log.Error("处理失败，跳过当前条目", zap.String("kind", kind), zap.Int64("id", id), zap.Error(err))
		return false
	}
	return true
}

// ==================== 店铺根分类 ====================

// storeRootPath 店铺根分类路径
func storeRootPath(ctx context.Context, stores repository.StoreRepository, catalog repository.CatalogRepository, storeID int64) (string, error) {
	store, err := stores.GetByID(ctx, storeID)
	if err != nil {
		return "", fmt.Errorf("查询店铺 %d 失败: %w", storeID, err)
	}
	if store.RootCategoryID == 0 {
		return "", nil
	}
	root, err := catalog.GetCategory(ctx, store.RootCategoryID)
	if err != nil {
		return "", fmt.Errorf("查询根分类失败: %w", err)
	}
	if root == nil {
		return "", nil
	}
	return root.Path, nil
}

func idString(id int64) string {
	return fmt.Sprintf("%d", id)
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
