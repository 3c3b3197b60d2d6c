// Package log 封装进程级 zap SugaredLogger。
package log

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar atomic.Pointer[zap.SugaredLogger]

func init() {
	sugar.Store(zap.NewNop().Sugar())
}

// Init 根据级别、编码格式和输出目录初始化全局 logger。
// format 为 "console" 时使用带颜色的开发模式编码，否则输出 JSON。
// outputPath 非空时同时写入 <outputPath>/app.log。
func Init(level, format, outputPath string) error {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "json"
	}

	zapConfig.Level = logLevel
	zapConfig.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		if err := os.MkdirAll(outputPath, os.ModePerm); err != nil {
			return err
		}
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, filepath.Join(outputPath, "app.log"))
	}

	logger, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	sugar.Store(logger.Sugar())
	return nil
}

// Use 替换全局 logger，测试中可传入 zaptest/observer 构造的 logger。
func Use(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar.Store(logger.Sugar())
}

// L 返回当前的 SugaredLogger。
func L() *zap.SugaredLogger {
	return sugar.Load()
}

// Info 记录一条 info 级别的日志
func Info(msg string) {
	L().Info(msg)
}

// Infof 使用格式化字符串记录一条 info 级别的日志
func Infof(template string, args ...interface{}) {
	L().Infof(template, args...)
}

// Infow 使用键值对记录一条 info 级别的结构化日志。
func Infow(msg string, keysAndValues ...interface{}) {
	L().Infow(msg, keysAndValues...)
}

// Warnf 使用格式化字符串记录一条 warn 级别的日志
func Warnf(template string, args ...interface{}) {
	L().Warnf(template, args...)
}

// Warnw 使用键值对记录一条 warn 级别的日志
func Warnw(msg string, keysAndValues ...interface{}) {
	L().Warnw(msg, keysAndValues...)
}

// Error 记录一条 error 级别的日志，并附带 error 信息
func Error(msg string, err error) {
	L().Errorw(msg, "error", err)
}

func Errorf(template string, args ...interface{}) {
	L().Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	L().Errorw(msg, keysAndValues...)
}

// Fatal 记录一条 fatal 级别的日志，并附带 error 信息，然后退出程序
func Fatal(msg string, err error) {
	L().Fatalw(msg, "error", err)
}

func Fatalf(template string, args ...interface{}) {
	L().Fatalf(template, args...)
}

// Sync 将缓冲区中的日志刷新到底层 Writer。
func Sync() {
	_ = L().Sync()
}
