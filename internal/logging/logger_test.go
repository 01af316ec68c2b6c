package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerSetsComponent(t *testing.T) {
	logger := NewLogger("recording")
	require.NotNil(t, logger)
	assert.Equal(t, "recording", logger.component)
	assert.Equal(t, "recording", logger.entry().Data["component"])
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestWithFieldsWithErrorDeriveWithoutMutatingParent(t *testing.T) {
	base := NewLogger("store")
	var buf bytes.Buffer
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	derived := base.WithField("recording_id", "r-1").WithError(assert.AnError)
	derived.Error("write failed")

	assert.Contains(t, buf.String(), "recording_id")
	assert.Contains(t, buf.String(), assert.AnError.Error())
	assert.Equal(t, "store", derived.component)
	assert.Empty(t, base.fields)
}

func TestWithCorrelationIDCarriesThroughDerivedLoggers(t *testing.T) {
	base := NewLogger("httpapi")
	var buf bytes.Buffer
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	withID := base.WithCorrelationID("req-123")
	withID.WithField("path", "/health").Info("request handled")

	assert.Contains(t, buf.String(), "req-123")
}

func TestContextCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Empty(t, CorrelationIDFromContext(nil))
}

func TestLogWithContextPrefersExplicitCorrelationID(t *testing.T) {
	logger := NewLogger("bus")
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx := ContextWithCorrelationID(context.Background(), "from-context")
	logger.LogWithContext(ctx, logrus.InfoLevel, "routing event")
	assert.Contains(t, buf.String(), "from-context")

	buf.Reset()
	logger.WithCorrelationID("explicit").LogWithContext(ctx, logrus.InfoLevel, "routing event")
	assert.Contains(t, buf.String(), "explicit")
	assert.NotContains(t, buf.String(), "from-context")
}

func TestSetupLoggingFallsBackToInfoOnBadLevel(t *testing.T) {
	err := SetupLogging(&Config{Level: "not-a-level", ConsoleEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, Default().GetLevel())
}

func TestSetupLoggingWritesRotatingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "engine.log")
	err := SetupLogging(&Config{
		Level:       "debug",
		Format:      "json",
		FileEnabled: true,
		FilePath:    logPath,
		MaxFileSize: 1,
		BackupCount: 1,
	})
	require.NoError(t, err)

	Default().Info("hello from the engine")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the engine")
}

func TestFactoryAppliesConfigToNewLoggers(t *testing.T) {
	ConfigureFactory(&Config{Level: "warn", Format: "text", ConsoleEnabled: true})
	t.Cleanup(func() { ConfigureFactory(&Config{Level: "info", Format: "text", ConsoleEnabled: true}) })

	logger := GetLogger("ffmpeg")
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.Equal(t, "ffmpeg", logger.component)
}

func TestFactoryDiscardsOutputWhenNoSinkEnabled(t *testing.T) {
	ConfigureFactory(&Config{Level: "info", Format: "text"})
	t.Cleanup(func() { ConfigureFactory(&Config{Level: "info", Format: "text", ConsoleEnabled: true}) })

	logger := GetLogger("pipeline")
	assert.IsType(t, discard{}, logger.Out)
}

func TestConfigureGlobalLoggingConfiguresFactoryAndSingleton(t *testing.T) {
	err := ConfigureGlobalLogging(&Config{Level: "error", Format: "text", ConsoleEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ConfigureGlobalLogging(&Config{Level: "info", Format: "text", ConsoleEnabled: true}) })

	assert.Equal(t, logrus.ErrorLevel, Default().GetLevel())
	assert.Equal(t, logrus.ErrorLevel, GetLogger("registry").GetLevel())
}
