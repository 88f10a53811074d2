package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ytdl-worker/app/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 包装 zap.Logger，附带格式化输出的 SugaredLogger
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger

	// 仅根日志器持有，用于停止日志文件按天切换
	cancelFunc context.CancelFunc
	wg         *sync.WaitGroup
}

// New 使用给定配置创建日志记录器
func New(cfg config.LogConfig) *Logger {
	level := parseLevel(cfg.Level)
	encCfg := encoderConfig()

	if cfg.Output != "file" {
		core := zapcore.NewCore(newEncoder(cfg.Format, encCfg), zapcore.AddSync(os.Stdout), level)
		return wrap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	}

	logDir := cfg.Dir
	if logDir == "" {
		logDir = filepath.Join("data", "logs")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic("创建日志目录失败: " + err.Error())
	}

	rotator := &lumberjack.Logger{
		Filename:   dailyFileName(logDir, time.Now()),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	core := zapcore.NewCore(newEncoder(cfg.Format, encCfg), zapcore.AddSync(rotator), level)
	if level == zapcore.DebugLevel {
		// 调试模式同时输出到控制台
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stdout), level))
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := wrap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	l.cancelFunc = cancel
	l.wg = &sync.WaitGroup{}
	l.wg.Add(1)
	go l.rotateDaily(ctx, rotator, logDir)

	return l
}

// Nop 返回丢弃所有输出的日志器
func Nop() *Logger {
	return wrap(zap.NewNop())
}

func wrap(z *zap.Logger) *Logger {
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func newEncoder(format string, cfg zapcore.EncoderConfig) zapcore.Encoder {
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func dailyFileName(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("ytdl-worker-%s.log", t.Format("2006-01-02")))
}

// rotateDaily 每天零点切换到新的日志文件
func (l *Logger) rotateDaily(ctx context.Context, rotator *lumberjack.Logger, dir string) {
	defer l.wg.Done()

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

		timer := time.NewTimer(next.Sub(now) + time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			rotator.Filename = dailyFileName(dir, next)
			_ = rotator.Close()
		}
	}
}

// Close 停止后台任务并刷新缓冲
func (l *Logger) Close() error {
	if l.cancelFunc != nil {
		l.cancelFunc()
		l.wg.Wait()
	}
	return l.Logger.Sync()
}

// Named 返回带组件名的子日志器
func (l *Logger) Named(name string) *Logger {
	return wrap(l.Logger.Named(name))
}

// With 返回附带固定字段的子日志器
func (l *Logger) With(fields ...zap.Field) *Logger {
	return wrap(l.Logger.With(fields...))
}

// WithTask 附带任务 ID 的子日志器
func (l *Logger) WithTask(taskID string) *Logger {
	return l.With(zap.String("task_id", taskID))
}

// WithError 附带错误字段的子日志器
func (l *Logger) WithError(err error) *Logger {
	return l.With(zap.Error(err))
}

func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

func (l *Logger) Debugf(template string, args ...any) {
	l.sugar.Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...any) {
	l.sugar.Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...any) {
	l.sugar.Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...any) {
	l.sugar.Errorf(template, args...)
}

func (l *Logger) Fatalf(template string, args ...any) {
	l.sugar.Fatalf(template, args...)
}
