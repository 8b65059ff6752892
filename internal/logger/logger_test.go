package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup_json(t *testing.T) {
	var buf bytes.Buffer
	l := setup(&buf, false)

	require.Equal(t, zerolog.InfoLevel, l.GetLevel())

	l.Debug().Msg("hidden")
	l.Info().Str("build_id", "abc").Msg("Build complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "Build complete", entry["message"])
	require.Equal(t, "abc", entry["build_id"])
	require.Contains(t, entry, "time")
}

func TestSetup_debugConsole(t *testing.T) {
	var buf bytes.Buffer
	l := setup(&buf, true)

	require.Equal(t, zerolog.DebugLevel, l.GetLevel())

	l.Debug().Msg("Watching directory")
	require.Contains(t, buf.String(), "Watching directory")
	require.Contains(t, buf.String(), "logger_test.go")
}
