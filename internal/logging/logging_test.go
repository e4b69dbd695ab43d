package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetReturnsSameLoggerForCategory(t *testing.T) {
	require.NoError(t, Initialize(zapcore.InfoLevel, nil, t.TempDir()))
	a := Get(CategoryBuilder)
	b := Get(CategoryBuilder)
	require.Same(t, a, b)
}

func TestIsEnabledDefaultsToTrue(t *testing.T) {
	require.NoError(t, Initialize(zapcore.InfoLevel, map[Category]bool{CategoryCritic: false}, t.TempDir()))
	require.True(t, Get(CategoryArchitect).isEnabled())
	require.False(t, Get(CategoryCritic).isEnabled())
}

func TestWritePhaseArtifactWritesJSONUnderJobDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Initialize(zapcore.InfoLevel, nil, root))

	el := NewEventLogger("job-123")
	path, err := el.WritePhaseArtifact("architect", "plan", map[string]any{"steps": 2})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(b, &payload))
	require.Equal(t, float64(2), payload["steps"])
	require.Contains(t, path, filepath.Join(root, "job-123"))
}

func TestLogDoesNotPanicWhenPipelineCategoryDisabled(t *testing.T) {
	require.NoError(t, Initialize(zapcore.InfoLevel, map[Category]bool{CategoryPipeline: false}, t.TempDir()))
	el := NewEventLogger("job-456")
	el.Log("phase_start", map[string]any{"phase": "builder"})
}
