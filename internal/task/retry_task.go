package task

import (
	"context"

	"storesync_v1/internal/model"
	"storesync_v1/internal/service"

	"go.uber.org/zap"
)

// ==================== RetryTask 失败重试任务 ====================

// FailedRetrier 失败记录重试入口
type FailedRetrier interface {
	RetryFailed(ctx context.Context, entity model.EntityType) ([]*service.RunSummary, error)
}

// RetryTask 按依赖顺序对每个实体执行一次失败重试
type RetryTask struct {
	retrier  FailedRetrier
	entities []model.EntityType
	log      *zap.Logger
}

func NewRetryTask(retrier FailedRetrier, entities []model.EntityType, log *zap.Logger) *RetryTask {
	if len(entities) == 0 {
		entities = model.AllEntityTypes
	}
	return &RetryTask{retrier: retrier, entities: entities, log: log.Named("retry")}
}

// RetryAll 单个实体出错时继续后面的实体
func (t *RetryTask) RetryAll(ctx context.Context) int {
	total := 0
	for _, entity := range t.entities {
		if ctx.Err() != nil {
			return total
		}
		sums, err := t.retrier.RetryFailed(ctx, entity)
		if err != nil {
			t.log.Error("失败重试出错", zap.String("entity", string(entity)), zap.Error(err))
		}
		total += len(sums)
	}
	if total > 0 {
		t.log.Info("失败重试完成", zap.Int("runs", total))
	}
	return total
}
