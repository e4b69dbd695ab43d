// Package lane implements the Lane Context Manager: per-phase
// conversation lane storage with byte/message caps, summarization scheduling, and
// ephemeral-vs-persistent scopes, using a rolling-summary/history-segment
// summarize-on-threshold pattern.
package lane

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"patchforge/internal/config"
	"patchforge/internal/logging"
	"patchforge/internal/types"
)

// Summarizer condenses the oldest messages of a lane into one synthetic message when
// it crosses its budget threshold. Kept as an injected capability rather than a
// concrete LLM call, since summarization ultimately goes through a provider adapter
// this package has no business owning.
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.LaneMessage, targetTokens int) (types.LaneMessage, error)
}

// Manager implements types.LaneManager.
type Manager struct {
	mu    sync.Mutex
	lanes map[string]*types.Lane
	cfg   config.LaneConfig
	group singleflight.Group
	summarizer Summarizer
}

// NewManager builds a lane Manager. summarizer may be nil, in which case
// summarization is a no-op truncation (oldest messages dropped rather than
// condensed) — still bounds-respecting, just without semantic compression.
func NewManager(cfg config.LaneConfig, summarizer Summarizer) *Manager {
	return &Manager{
		lanes:      make(map[string]*types.Lane),
		cfg:        cfg,
		summarizer: summarizer,
	}
}

// GetLane returns (creating if necessary) the lane for opts. Concurrent calls for
// the same composite id are coalesced via singleflight so the lane is created
// once, not once per caller. GetLane itself never summarizes; that happens in
// Append.
func (m *Manager) GetLane(ctx context.Context, opts types.GetLaneOptions) (*types.Lane, error) {
	scope := types.LaneScope{JobID: opts.JobID, TaskID: opts.TaskID, RunID: opts.RunID, Attempt: opts.Attempt}
	id := scope.LaneID(opts.Role)

	v, err, _ := m.group.Do(id, func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.lanes[id]; ok {
			return l, nil
		}
		l := &types.Lane{
			LaneID:    id,
			Role:      opts.Role,
			Scope:     scope,
			Ephemeral: opts.Ephemeral,
		}
		m.lanes[id] = l
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Lane), nil
}

// Append adds a message to the lane, enforcing maxMessages/maxBytesPerLane and
// triggering summarization when the configured byte threshold is crossed. Lanes
// carry no model, and modelTokenLimits is not consulted. Summarization never blocks the caller's phase: it runs synchronously
// here only because it is a bounded, cooperative step within the same call,
// matching "scheduled cooperatively -- never blocks an in-flight phase"
// (i.e. it runs between phases, not concurrently underneath one).
func (m *Manager) Append(ctx context.Context, laneID string, msg types.LaneMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lanes[laneID]
	if !ok {
		return fmt.Errorf("lane: unknown lane %q", laneID)
	}
	if msg.Bytes == 0 {
		msg.Bytes = len(msg.Content)
	}
	l.Messages = append(l.Messages, msg)
	l.Bytes += msg.Bytes

	m.enforceCaps(ctx, l)
	return nil
}

func (m *Manager) enforceCaps(ctx context.Context, l *types.Lane) {
	logger := logging.Get(logging.CategoryLane)

	maxBytes := m.cfg.MaxBytesPerLane
	if maxBytes <= 0 {
		maxBytes = 200_000
	}

	if m.cfg.SummarizeEnabled && maxBytes > 0 {
		threshold := m.cfg.SummarizeThresholdPct
		if threshold <= 0 {
			threshold = 0.75
		}
		if float64(l.Bytes) >= threshold*float64(maxBytes) && len(l.Messages) > 1 {
			m.summarize(ctx, l)
		}
	}

	for l.Bytes > maxBytes && len(l.Messages) > 0 {
		dropped := l.Messages[0]
		l.Messages = l.Messages[1:]
		l.Bytes -= dropped.Bytes
		logger.Warn("lane %s exceeded maxBytesPerLane, dropped oldest message", l.LaneID)
	}

	maxMsgs := m.cfg.MaxMessages
	if maxMsgs > 0 {
		for len(l.Messages) > maxMsgs {
			dropped := l.Messages[0]
			l.Messages = l.Messages[1:]
			l.Bytes -= dropped.Bytes
		}
	}
}

// summarize replaces the oldest half of the lane's messages with one synthetic
// message.
func (m *Manager) summarize(ctx context.Context, l *types.Lane) {
	n := len(l.Messages) / 2
	if n < 1 {
		return
	}
	oldest := l.Messages[:n]

	var synthetic types.LaneMessage
	if m.summarizer != nil {
		target := m.cfg.SummarizeTargetTokens
		if target <= 0 {
			target = 2000
		}
		s, err := m.summarizer.Summarize(ctx, oldest, target)
		if err != nil {
			logging.Get(logging.CategoryLane).Warn("lane %s summarization failed: %v", l.LaneID, err)
			return
		}
		synthetic = s
	} else {
		synthetic = types.LaneMessage{
			Role:    "system",
			Content: fmt.Sprintf("[%d earlier messages elided]", n),
		}
	}
	synthetic.Bytes = len(synthetic.Content)

	removedBytes := 0
	for _, msg := range oldest {
		removedBytes += msg.Bytes
	}

	l.Messages = append([]types.LaneMessage{synthetic}, l.Messages[n:]...)
	l.Bytes = l.Bytes - removedBytes + synthetic.Bytes
}

// Discard drops an ephemeral lane's state at the end of its producing operation.
func (m *Manager) Discard(ctx context.Context, laneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lanes, laneID)
	return nil
}
