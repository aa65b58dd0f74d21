// Package logger 提供基于 zap 的结构化日志。
// 所有组件通过同一个 *zap.Logger 派生命名子日志器（logger.Named("risk") 等），
// 保证风控事件、订单事件与撮合事件共享一致的字段编码。
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置。
type Config struct {
	Level  string // debug / info / warn / error
	Format string // json / console
}

// New 按配置构造根日志器。
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	return zap.New(core, zap.AddCaller()), nil
}

// NewNop 返回丢弃所有输出的日志器，测试用。
func NewNop() *zap.Logger {
	return zap.NewNop()
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", s)
	}
}
