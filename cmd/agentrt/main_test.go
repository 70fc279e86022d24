package main

import (
	"testing"

	"github.com/BaSui01/agentrt/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestInitLogger_LevelIsAdjustable(t *testing.T) {
	logger, level := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	assert.NotNil(t, logger)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	applyLogLevel(level, "debug", zap.NewNop())
	assert.Equal(t, zapcore.DebugLevel, level.Level())
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLogger_DefaultsOutputPaths(t *testing.T) {
	logger, level := initLogger(config.LogConfig{Level: "info"})
	assert.NotNil(t, logger)
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}
