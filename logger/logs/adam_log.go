package logs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var adamLogger *AdamLog

func GetLogger() *AdamLog {
	return adamLogger
}

var once sync.Once

// AdamLog 同时持有结构化与 sugar 两种 zap logger
type AdamLog struct {
	zap *zap.Logger
	*zap.SugaredLogger
}

type Field = zap.Field

// ParseLevel 把配置中的级别字符串转为 zap 级别
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	case "dpanic":
		return zap.DPanicLevel, nil
	case "panic":
		return zap.PanicLevel, nil
	case "fatal":
		return zap.FatalLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unSupport log level [%v]", level)
	}
}

func LogInit(level string) {
	logLevel, err := ParseLevel(level)
	if err != nil {
		panic(err)
	}
	NewAdamLog(logLevel)
}

// NewAdamLogSelf 自行配置日志
func NewAdamLogSelf(zapConfig zap.Config) *AdamLog {
	logger, err := zapConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("log 初始化失败: %v", err))
	}
	adamLogger = &AdamLog{
		zap:           logger,
		SugaredLogger: logger.Sugar(),
	}
	return adamLogger
}

// NewAdamLog 系统自动配置
func NewAdamLog(level zapcore.Level) *AdamLog {
	once.Do(func() {
		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		config := zap.Config{
			Level:            zap.NewAtomicLevelAt(level),
			Development:      false,
			Encoding:         "console",
			EncoderConfig:    encoderConfig,
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}

		logger, err := config.Build()
		if err != nil {
			panic(fmt.Sprintf("log 初始化失败: %v", err))
		}
		logger.Info("log 初始化成功", Time("runTime", time.Now()))
		adamLogger = &AdamLog{
			zap:           logger,
			SugaredLogger: logger.Sugar(),
		}
	})
	return adamLogger
}

// NewNopLog 测试使用，丢弃全部输出
func NewNopLog() *AdamLog {
	l := zap.NewNop()
	return &AdamLog{zap: l, SugaredLogger: l.Sugar()}
}

// Z 返回结构化 logger，热路径上使用
func (a *AdamLog) Z() *zap.Logger {
	return a.zap
}

func (a *AdamLog) Close() error {
	_ = a.zap.Sync()
	return a.SugaredLogger.Sync()
}
