package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/dockhand/dockhand/internal/config"
)

func loggingConfig(level, format, output string) *config.Config {
	cfg := &config.Config{}
	cfg.Logging.Level = level
	cfg.Logging.Format = format
	cfg.Logging.Output = output
	return cfg
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		wantLevel logrus.Level
		wantJSON  bool
	}{
		{"json debug", loggingConfig("debug", "json", "stdout"), logrus.DebugLevel, true},
		{"text warn", loggingConfig("warn", "text", "stderr"), logrus.WarnLevel, false},
		{"bad level falls back to info", loggingConfig("noisy", "json", "stdout"), logrus.InfoLevel, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger := initLogger(tc.cfg)

			assert.Equal(t, tc.wantLevel, logger.GetLevel())
			_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tc.wantJSON, isJSON)
		})
	}
}
