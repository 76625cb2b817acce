package repository

import (
	"context"
	"time"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
)

// JobRepository 同步任务调度记录
type JobRepository interface {
	Enqueue(ctx context.Context, jobCode string, storeID int64) (*model.JobSchedule, error)
	Start(ctx context.Context, id int64, runID string) error
	Finish(ctx context.Context, id int64, status, messages string) error
	CancelPending(ctx context.Context, jobCode string, storeID *int64) (int64, error)
	ListRecent(ctx context.Context, jobCode string, limit int) ([]model.JobSchedule, error)
}

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建调度记录仓库
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Enqueue(ctx context.Context, jobCode string, storeID int64) (*model.JobSchedule, error) {
	job := &model.JobSchedule{
		JobCode:     jobCode,
		StoreID:     storeID,
		Status:      model.JobStatusPending,
		ScheduledAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// Start 仅 pending 的任务可以开始，已被取消的返回 ErrRecordNotFound
func (r *jobRepository) Start(ctx context.Context, id int64, runID string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.JobSchedule{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Updates(map[string]interface{}{
			"status":      model.JobStatusRunning,
			"run_id":      runID,
			"executed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *jobRepository) Finish(ctx context.Context, id int64, status, messages string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.JobSchedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"messages":    messages,
			"finished_at": now,
		}).Error
}

// CancelPending 删除待执行的任务，storeID 为 nil 时作用于全部店铺
func (r *jobRepository) CancelPending(ctx context.Context, jobCode string, storeID *int64) (int64, error) {
	q := r.db.WithContext(ctx).Where("job_code = ? AND status = ?", jobCode, model.JobStatusPending)
	if storeID != nil {
		q = q.Where("store_id = ?", *storeID)
	}
	res := q.Delete(&model.JobSchedule{})
	return res.RowsAffected, res.Error
}

func (r *jobRepository) ListRecent(ctx context.Context, jobCode string, limit int) ([]model.JobSchedule, error) {
	var list []model.JobSchedule
	q := r.db.WithContext(ctx).Order("id DESC")
	if jobCode != "" {
		q = q.Where("job_code = ?", jobCode)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return list, q.Find(&list).Error
}
