package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytdl-worker/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("unknown"))
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	log := New(config.LogConfig{Level: "info", Format: "json", Output: "file", Dir: dir, MaxSize: 1})

	log.Named("test").WithTask("abc").Infof("hello %s", "world")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(dailyFileName(dir, time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task_id":"abc"`)
	assert.Contains(t, string(data), "hello world")
}

func TestDailyFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join("logs", "ytdl-worker-2024-03-09.log"), dailyFileName("logs", ts))
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Infof("丢弃")
	assert.NoError(t, log.Close())
}
