// Package logger 全局 zap 日志。终端输出人类可读格式，配置了日志文件时额外写一份 JSON。
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

// Options 日志选项
type Options struct {
	Level string
	// Development 打开调用位置和彩色级别
	Development bool
	// File 非空时追加写入 JSON 日志
	File string
}

// Init 只输出到终端
func Init(level string, development bool) error {
	return InitWithOptions(Options{Level: level, Development: development})
}

// InitWithOptions 按选项替换全局 logger
func InitWithOptions(opts Options) error {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if opts.Development {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
	}

	if path := strings.TrimSpace(opts.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.Lock(f), level))
	}

	zopts := []zap.Option{zap.AddCallerSkip(1), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if opts.Development {
		zopts = append(zopts, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	current.Store(zap.New(zapcore.NewTee(cores...), zopts...))
	return nil
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || level == "" {
		return zapcore.InfoLevel
	}
	return l
}

// L 全局 logger，未初始化时按 info 级别输出到终端
func L() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	_ = Init("info", false)
	return current.Load()
}

// SetForTest 替换全局 logger，返回恢复函数
func SetForTest(l *zap.Logger) func() {
	prev := current.Swap(l)
	return func() { current.Store(prev) }
}

// Sync 刷新缓冲
func Sync() error {
	if l := current.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

// Info 信息日志
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

// Error 错误日志
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
