package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/fatflowers/finepay/pkg/config"
)

// New builds the process logger. Dev environments get debug level and caller-friendly output
// while keeping the JSON encoder so log shipping stays identical.
func New(cfg *cfgpkg.Config) (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.TimeKey = "time"
	if cfg != nil && cfg.Env == cfgpkg.EnvDev {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar().Named("finepay"), nil
}

// registerSync flushes buffered entries on shutdown.
func registerSync(lc fx.Lifecycle, l *zap.SugaredLogger) {
	lc.Append(fx.StopHook(func() {
		_ = l.Sync()
	}))
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerSync),
)
