package pipeline

import (
	"context"
	"fmt"

	"patchforge/internal/types"
)

// emit fires onEvent (if set) and logs through the injected Logger. Every phase
// emits phase_start/input/output/end events as it runs.
func (p *SmartPipeline) emit(phase, laneID, eventType string, data map[string]any) {
	if p.deps.OnEvent != nil {
		p.deps.OnEvent(Event{Type: eventType, Phase: phase, LaneID: laneID, Data: data})
	}
	if p.deps.Logger != nil {
		merged := map[string]any{"phase": phase, "lane_id": laneID}
		for k, v := range data {
			merged[k] = v
		}
		p.deps.Logger.Log(eventType, merged)
	}
}

func (p *SmartPipeline) writeArtifact(jobPhase, kind string, payload any) {
	if p.deps.Logger == nil {
		return
	}
	_, _ = p.deps.Logger.WritePhaseArtifact(jobPhase, kind, payload)
}

// recordLane appends a role/content entry to the phase's lane, creating it first
// if needed. A no-op when no LaneManager is injected (most unit tests). rs is the
// calling run's own state; the attempt-scoped lane suffix is derived from it
// rather than from any state shared across runs.
func (p *SmartPipeline) recordLane(ctx context.Context, rs *runState, phase, laneID, role string, content any) {
	if p.deps.LaneManager == nil {
		return
	}
	scope := p.scope
	if rs != nil && rs.attempts > 0 {
		attemptScope := scope
		attemptScope.Attempt = rs.attempts
		if attemptScope.LaneID(phase) == laneID {
			scope = attemptScope
		}
	}
	opts := types.GetLaneOptions{
		JobID: scope.JobID, TaskID: scope.TaskID, Role: phase,
		RunID: scope.RunID, Attempt: scope.Attempt, Ephemeral: scope.Attempt > 0,
	}
	if _, err := p.deps.LaneManager.GetLane(ctx, opts); err != nil {
		return
	}
	text := fmt.Sprintf("%v", content)
	_ = p.deps.LaneManager.Append(ctx, laneID, types.LaneMessage{Role: role, Content: text, Bytes: len(text)})
}

func (p *SmartPipeline) phaseStart(ctx context.Context, rs *runState, phase, laneID string, input any) {
	p.emit(phase, laneID, "phase_start", nil)
	p.emit(phase, laneID, "phase_input", map[string]any{"input": input})
	p.writeArtifact(phase, "input", input)
	p.recordLane(ctx, rs, phase, laneID, "input", input)
}

func (p *SmartPipeline) phaseEnd(ctx context.Context, rs *runState, phase, laneID string, output any) {
	p.emit(phase, laneID, "phase_output", map[string]any{"output": output})
	p.writeArtifact(phase, "output", output)
	p.recordLane(ctx, rs, phase, laneID, "output", output)
	p.emit(phase, laneID, "phase_end", nil)
}

func (p *SmartPipeline) warn(phase, laneID, warning string) {
	p.emit(phase, laneID, warning, nil)
}
