// Package logger builds the service's zap logger.
package logger

import (
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger, or a JSON production logger when cfg
// says so. The logger is also installed as zap's global.
func New(cfg *config.Config) (*zap.Logger, error) {
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	if cfg.IsProduction() {
		zc := zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.StacktraceKey = "stacktrace"
		zc.EncoderConfig.LevelKey = "severity"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.CallerKey = "caller"
		zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		zc.Encoding = "json"
		zc.OutputPaths = []string{"stdout"}
		zc.ErrorOutputPaths = []string{"stderr"}

		if log, err = zc.Build(); err != nil {
			return nil, err
		}
	}

	log = log.With(
		zap.String("env", cfg.AppEnv),
		zap.String("service_name", cfg.AppName),
	)
	zap.ReplaceGlobals(log)
	return log, nil
}
