package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/gameupdater/gameupdater/pkg/config"
)

func TestNewLevels(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "info", Format: "xml"})
	require.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}
