package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLevel  = zap.NewAtomicLevelAt(ParseLevel(os.Getenv(EnvLogLevel), zapcore.InfoLevel))
	defaultLogger = NewLogger("imgstream", defaultLevel)
)

// SetupDefaultLogger 替换包级默认日志器.
func SetupDefaultLogger(l *zap.SugaredLogger) {
	defaultLogger = l
}

// SetLevel 调整内置默认日志器的级别, 对 SetupDefaultLogger 替换进来的日志器无效.
func SetLevel(level zapcore.Level) {
	defaultLevel.SetLevel(level)
}

// Default 返回当前包级默认日志器.
func Default() *zap.SugaredLogger {
	return defaultLogger
}

func Debugf(template string, args ...interface{}) {
	defaultLogger.Debugf(template, args...)
}

func Info(args ...interface{}) {
	defaultLogger.Info(args...)
}

func Infof(template string, args ...interface{}) {
	defaultLogger.Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	defaultLogger.Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	defaultLogger.Errorf(template, args...)
}

func Fatalf(template string, args ...interface{}) {
	defaultLogger.Fatalf(template, args...)
}
