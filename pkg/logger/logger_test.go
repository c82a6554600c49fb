package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitQuietWritesFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dex.log")
	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, MaxSize: 1, Quiet: true}))
	t.Cleanup(func() { Logger = nil })

	assert.Equal(t, path, GetCurrentLogFile())
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	WithField("market", "ubze/uusdc").Info("book refreshed")
	logrus.WithField("component", "trading").Warn("package logger")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "book refreshed")
	assert.Contains(t, string(data), "package logger")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "chatty", Quiet: true}))
	t.Cleanup(func() { Logger = nil })
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestHelpersBeforeInit(t *testing.T) {
	Logger = nil
	assert.NotPanics(t, func() {
		Infof("x %d", 1)
		Warnf("y")
		WithFields(logrus.Fields{"a": 1}).Debug("z")
	})
}
