package logger

import (
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel 默认日志器的级别环境变量(debug/info/warn/error).
const EnvLogLevel = "IMGSTREAM_LOG_LEVEL"

const _TimeLayout = "2006-01-02 15:04:05.000"

// bracket 给数组型字段的编码结果加上方括号, 控制台输出形如 [INFO] [imgstream] [stream/file.go:42].
type bracket struct {
	zapcore.PrimitiveArrayEncoder
}

func (b bracket) AppendString(s string) {
	b.PrimitiveArrayEncoder.AppendString("[" + s + "]")
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.FunctionKey = zapcore.OmitKey
	cfg.ConsoleSeparator = " "
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		zapcore.TimeEncoderOfLayout(_TimeLayout)(t, bracket{enc})
	}
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		zapcore.CapitalLevelEncoder(l, bracket{enc})
	}
	cfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		zapcore.FullNameEncoder(name, bracket{enc})
	}
	cfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		zapcore.ShortCallerEncoder(c, bracket{enc})
	}
	if runtime.GOOS == "windows" {
		cfg.LineEnding = "\r\n"
	}
	return cfg
}

// NewLogger 创建一个控制台格式的日志器, 未指定 writers 时输出到标准错误.
// level 可在创建后通过 zap.AtomicLevel 调整, 见 SetLevel.
func NewLogger(name string, level zapcore.LevelEnabler, writers ...io.Writer) *zap.SugaredLogger {
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	syncers := make([]zapcore.WriteSyncer, 0, len(writers))
	for _, w := range writers {
		syncers = append(syncers, zapcore.AddSync(w))
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.NewMultiWriteSyncer(syncers...), level)
	// 包装层(Debugf等)占用一层调用栈.
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if name != "" {
		l = l.Named(name)
	}
	return l.Sugar()
}

// ParseLevel 解析级别字符串, 无法识别时返回 fallback.
func ParseLevel(s string, fallback zapcore.Level) zapcore.Level {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return fallback
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return fallback
	}
	return lvl
}
