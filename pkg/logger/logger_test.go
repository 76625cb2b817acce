package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.Format = "json"
	cfg.FilePath = filepath.Join(dir, "sub", "sync.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("写入测试")
	_ = l.Sync()

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "写入测试")
}

func TestNew_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestWithRun_AddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l, runID := WithRun(zap.New(core), "product", 3)
	l.Info("开始同步")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, runID, fields["run_id"])
	assert.Equal(t, "product", fields["entity"])
	assert.Equal(t, int64(3), fields["store_id"])
}

func TestGlobal_DefaultsToNop(t *testing.T) {
	Set(nil)
	assert.NotNil(t, L())
	Named("Test").Info("不会输出")
}
