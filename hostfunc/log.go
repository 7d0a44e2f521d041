package hostfunc

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogFunc returns the reference logging sink. Messages at LevelError and
// above go to stderr, everything else to stdout, one line each:
//
//	[tid-00000000000000000003] [INFO] message
//
// The thread id is the execution unit carried by ctx (see WithUnit).
func NewLogFunc(stdout, stderr io.Writer) LogFunc {
	return NewZapLogFunc(newSinkLogger(stdout, stderr))
}

// NewZapLogFunc formats contract log lines and writes them through logger.
func NewZapLogFunc(logger *zap.Logger) LogFunc {
	return func(ctx context.Context, level Level, msg string) {
		line := fmt.Sprintf("[tid-%020d] [%s] %s", UnitFrom(ctx), level, msg)
		logger.Log(level.zapLevel(), line)
	}
}

func newSinkLogger(stdout, stderr io.Writer) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})

	toErr := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
	toOut := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l < zapcore.ErrorLevel })

	return zap.New(zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(stdout)), toOut),
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(stderr)), toErr),
	))
}

func (l Level) zapLevel() zapcore.Level {
	switch {
	case l >= LevelError:
		return zapcore.ErrorLevel
	case l == LevelInfo:
		return zapcore.InfoLevel
	case l == LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.DebugLevel
	}
}
