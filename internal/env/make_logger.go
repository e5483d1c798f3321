package env

import (
	"os"

	zap "go.uber.org/zap"
)

// MakeLogger builds the process-wide JSON logger. TVGATE_DEBUG=1 lowers
// the level to debug; the logger exists before the config is parsed, so
// the flag is read straight from the environment.
func MakeLogger() (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logConfig.Encoding = "json"

	if os.Getenv("TVGATE_DEBUG") == "1" {
		logConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return logConfig.Build()
}
