package logging

import (
	"go.uber.org/zap"
)

var (
	Internal *zap.SugaredLogger
	HTTP     *zap.SugaredLogger
	Cleanup  *zap.SugaredLogger
)

func init() {
	Configure(false)
}

// Configure builds the process-wide loggers. Dev mode switches to the
// human-readable console encoder.
func Configure(dev bool) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)

	s := log.Sugar()
	Internal = s.Named("internal")
	HTTP = s.Named("http")
	Cleanup = s.Named("cleanup")
}
