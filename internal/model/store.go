package model

import "time"

// DefaultScopeStoreID 默认作用域，店铺未配置时回退到这里
const DefaultScopeStoreID int64 = 0

// Store 店铺 (租户)
type Store struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name           string `gorm:"size:255" json:"name"`
	IsActive       bool   `gorm:"default:true" json:"is_active"`
	RootCategoryID int64  `json:"root_category_id"`
	BaseCurrency   string `gorm:"size:10;default:USD" json:"base_currency"`
	BaseURL        string `gorm:"size:255" json:"base_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*Store) TableName() string {
	return "stores"
}

// StoreConfig 店铺级键值配置
type StoreConfig struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	StoreID   int64  `gorm:"not null;uniqueIndex:idx_store_config_path"`
	Path      string `gorm:"size:255;not null;uniqueIndex:idx_store_config_path"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (*StoreConfig) TableName() string {
	return "store_configs"
}

// ==================== JobSchedule 调度任务 ====================

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusError   = "error"
)

// JobSchedule 同步任务运行记录
type JobSchedule struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobCode     string     `gorm:"size:64;index:idx_job_code_status" json:"job_code"`
	StoreID     int64      `gorm:"index" json:"store_id"`
	Status      string     `gorm:"size:16;index:idx_job_code_status" json:"status"`
	Messages    string     `gorm:"type:text" json:"messages"`
	RunID       string     `gorm:"size:64" json:"run_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	ExecutedAt  *time.Time `json:"executed_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	// CreatedBy 手动触发的操作员，定时触发为 0
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (*JobSchedule) TableName() string {
	return "sync_job_schedules"
}
