package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string // debug / info / warn / error
	Format     string // json / console
	Output     string // stdout / file / both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // 天
	Compress   bool
}

// DefaultConfig 默认只输出到控制台
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		FilePath:   "logs/storesync.log",
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
		Compress:   true,
	}
}

var (
	global   = zap.NewNop()
	globalMu sync.RWMutex
)

// New 根据配置构建 zap.Logger
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sinks []zapcore.WriteSyncer
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}))
	}
	if cfg.Output == "" || cfg.Output == "stdout" || cfg.Output == "both" {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()), nil
}

// Init 构建并设置全局 logger
func Init(cfg Config) (*zap.Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	Set(l)
	return l, nil
}

// Set 替换全局 logger
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// L 全局 logger，未初始化时为 Nop
func L() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Named 带任务名的子 logger，对应日志里的 [TaskName] 前缀
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// NewRunID 每次处理器运行的关联 ID
func NewRunID() string {
	return uuid.NewString()
}

// WithRun 为一次运行附加 run_id / entity / store_id 字段
func WithRun(l *zap.Logger, entity string, storeID int64) (*zap.Logger, string) {
	runID := NewRunID()
	return l.With(
		zap.String("run_id", runID),
		zap.String("entity", entity),
		zap.Int64("store_id", storeID),
	), runID
}
