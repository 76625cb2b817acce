package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLitePrefix 本地开发用 sqlite，如 "sqlite://storesync.db"
const SQLitePrefix = "sqlite://"

// Dialector 按 DSN 选择驱动，默认 postgres
func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, SQLitePrefix) {
		return sqlite.Open(strings.TrimPrefix(dsn, SQLitePrefix))
	}
	return postgres.Open(dsn)
}

// Options 连接池与日志选项
type Options struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// Debug 打印全部 SQL，方便调试
	Debug bool
}

// InitDB 初始化数据库连接
// dsn: postgres 连接字符串，或 sqlite:// 前缀的文件路径
func InitDB(dsn string, opts Options, log *zap.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if opts.Debug {
		level = logger.Info
	}

	if dsn == "" {
		return nil, fmt.Errorf("未配置数据库连接 (db.dsn)")
	}
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	// 获取底层的 sqlDB 对象，用于设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 SQL DB 失败: %w", err)
	}

	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 10
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 100
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	if strings.HasPrefix(dsn, SQLitePrefix) {
		// sqlite 单写
		opts.MaxOpenConns = 1
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	log.Info("数据库连接成功",
		zap.Int("max_idle", opts.MaxIdleConns),
		zap.Int("max_open", opts.MaxOpenConns))
	return db, nil
}
