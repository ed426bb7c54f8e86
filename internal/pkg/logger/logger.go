package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
	mu   sync.RWMutex
)

// Options 日志初始化参数
type Options struct {
	OutputPath string // 例如 "logs/app.log"，为空时只输出到 stdout
	ErrorPath  string // 例如 "logs/error.log"，为空时只输出到 stderr
	Level      string // debug, info, warn, error
	Encoding   string // json 或 console
}

// InitLogger 初始化全局 zap 日志，只生效一次
func InitLogger(opts Options) {
	once.Do(func() {
		l, err := build(opts)
		if err != nil {
			panic(fmt.Sprintf("Failed to build zap logger: %v", err))
		}
		SetLogger(l)
	})
}

func build(opts Options) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zap.InfoLevel
		fmt.Fprintf(os.Stderr, "Failed to parse log level '%s', defaulting to info: %v\n", opts.Level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = withDefault(opts.OutputPath, "stdout")
	cfg.ErrorOutputPaths = withDefault(opts.ErrorPath, "stderr")
	cfg.Encoding = "json"
	if opts.Encoding == "console" {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	return cfg.Build()
}

func withDefault(path, std string) []string {
	if path == "" || path == std {
		return []string{std}
	}
	return []string{path, std}
}

// SetLogger 替换全局 logger，测试中可传入 zap.NewNop()
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
	zap.ReplaceGlobals(l)
}

// GetLogger 返回全局logger，未初始化时使用默认配置
func GetLogger() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		InitLogger(Options{Level: "info"})
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Named 返回带组件名的子 logger
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

func Sugar() *zap.SugaredLogger {
	return GetLogger().Sugar()
}

// 刷新缓冲区,确保程序退出前使用
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		if err := l.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync zap logger: %v\n", err)
		}
	}
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}
