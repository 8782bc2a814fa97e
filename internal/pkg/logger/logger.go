package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a JSON production logger for prod-like environments and a
// human-readable development logger otherwise.
func New(appEnv string) (*zap.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(appEnv)) {
	case "prod", "production", "release":
		return zap.NewProduction()
	default:
		return zap.NewDevelopment()
	}
}
