package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// #region constructor

// New builds the process logger. Production environments get JSON output;
// development gets the console encoder. level is a zap level name ("debug", "info", ...).
func New(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "" || env == "development" || env == "dev" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// #endregion constructor

// #region run-scope

// ForRun binds run identity fields to base. Debug runs are forced to Debug level so
// their stage events are always emitted, independent of the process level.
func ForRun(base *zap.Logger, traceID, runID, requestID, userID, mode string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	l := base.With(
		zap.String("trace_id", traceID),
		zap.String("run_id", runID),
		zap.String("request_id", requestID),
		zap.String("user_id", userID),
		zap.String("mode", mode),
	)
	if mode == "debug" {
		l = l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return debugCore{Core: c}
		}))
	}
	return l
}

// debugCore lets Debug entries through even when the wrapped core is at Info.
type debugCore struct {
	zapcore.Core
}

func (d debugCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= zapcore.DebugLevel
}

func (d debugCore) With(fields []zapcore.Field) zapcore.Core {
	return debugCore{Core: d.Core.With(fields)}
}

func (d debugCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if d.Enabled(ent.Level) {
		return ce.AddCore(ent, d)
	}
	return ce
}

// #endregion run-scope
