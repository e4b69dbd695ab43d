package lane

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patchforge/internal/config"
	"patchforge/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultConfig().Lane
	cfg.MaxBytesPerLane = 100
	cfg.SummarizeThresholdPct = 0.5
	return NewManager(cfg, nil)
}

func TestLaneIDConvention(t *testing.T) {
	scope := types.LaneScope{JobID: "job-x", TaskID: "task-y"}
	require.Equal(t, "job-x:task-y:builder", scope.LaneID("builder"))

	scope.Attempt = 2
	require.Equal(t, "job-x:task-y:builder:attempt-2", scope.LaneID("builder"))
}

func TestGetLaneCreatesAndReuses(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l1, err := m.GetLane(ctx, types.GetLaneOptions{JobID: "j", TaskID: "t", Role: "builder"})
	require.NoError(t, err)

	l2, err := m.GetLane(ctx, types.GetLaneOptions{JobID: "j", TaskID: "t", Role: "builder"})
	require.NoError(t, err)
	require.Same(t, l1, l2)
}

func TestAppendEnforcesByteCap(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.GetLane(ctx, types.GetLaneOptions{JobID: "j", TaskID: "t", Role: "builder"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		err := m.Append(ctx, l.LaneID, types.LaneMessage{Role: "user", Content: strings.Repeat("x", 20)})
		require.NoError(t, err)
	}

	require.LessOrEqual(t, l.Bytes, 100)
}

func TestDiscardRemovesEphemeralLane(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.GetLane(ctx, types.GetLaneOptions{JobID: "j", TaskID: "t", Role: "query-expansion", Ephemeral: true})
	require.NoError(t, err)

	require.NoError(t, m.Discard(ctx, l.LaneID))

	l2, err := m.GetLane(ctx, types.GetLaneOptions{JobID: "j", TaskID: "t", Role: "query-expansion", Ephemeral: true})
	require.NoError(t, err)
	require.NotSame(t, l, l2)
}
