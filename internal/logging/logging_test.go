package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "WARN", Writer: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Str("kind", "activity").Msg("skipping malformed record")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"kind":"activity"`)
	require.Contains(t, buf.String(), `"time":`)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	var buf bytes.Buffer
	logger, closer, err := New(Options{File: path, Writer: &buf})
	require.NoError(t, err)

	logger.Info().Msg("sync session completed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "sync session completed")
	require.Contains(t, buf.String(), "sync session completed")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	require.Error(t, err)
}
