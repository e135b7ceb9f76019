package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

// prevents differences when adding new constants
const loggerKey ctxKey = iota

var (
	defaultLogger     atomic.Pointer[zap.Logger]
	defaultLoggerOnce sync.Once
)

// Options controls logger construction. Empty fields fall back to the
// ENV and LOG_LEVEL environment variables.
type Options struct {
	Level       string
	Development bool
}

// OptionsFromEnv reads ENV=dev|development and LOG_LEVEL.
func OptionsFromEnv() Options {
	env := strings.ToLower(os.Getenv("ENV"))
	return Options{
		Level:       os.Getenv("LOG_LEVEL"),
		Development: env == "dev" || env == "development",
	}
}

// NewLogger builds a zap logger: console + colour in development, JSON otherwise.
func NewLogger(opts Options) (*zap.Logger, error) {
	var config zap.Config

	if opts.Development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		//to see who calls it
		config.DisableCaller = false
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	return config.Build()
}

// SetDefault replaces the process logger returned by DefaultLogger.
// It is safe to call while other goroutines are logging.
func SetDefault(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultLogger.Store(logger)
}

// Singleton logger
func DefaultLogger() *zap.Logger {
	if logger := defaultLogger.Load(); logger != nil {
		return logger
	}
	defaultLoggerOnce.Do(func() {
		logger, err := NewLogger(OptionsFromEnv())
		if err != nil {
			_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
			logger = zap.NewNop()
		}
		// a concurrent SetDefault wins
		defaultLogger.CompareAndSwap(nil, logger)
	})
	return defaultLogger.Load()
}

// attach a logger to context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

//retrieve logger from context

func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return DefaultLogger()
	}

	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	if ok && logger != nil {
		return logger
	}
	return DefaultLogger()
}

func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx)
}

// WithFields adds structured fields to the logger in context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	logger := FromContext(ctx).With(fields...)
	return WithLogger(ctx, logger)
}
