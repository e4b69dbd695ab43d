package pipeline

import (
	"context"
	"errors"
	"fmt"

	"patchforge/internal/errs"
	"patchforge/internal/research"
	"patchforge/internal/types"
)

// Run drives one request through Librarian -> Research? -> Architect -> Builder ->
// Critic -> memory writeback, producing a RunResult.
func (p *SmartPipeline) Run(ctx context.Context, request string) (*RunResult, error) {
	rs := newRunState()
	rs.runID = newRunID()
	defer p.discardEphemeralLanes(rs)

	bundle, err := p.runLibrarian(ctx, rs, request)
	if err != nil {
		return p.errorResult(rs, err), err
	}
	rs.bundle = bundle

	if p.cfg.DeepMode {
		if err := p.runResearch(ctx, rs, request); err != nil {
			return p.errorResult(rs, err), err
		}
	}

	plan, err := p.runArchitect(ctx, rs, request, nil)
	if err != nil {
		return p.errorResult(rs, err), err
	}

	for {
		rs.attempts++

		result, usedPlan, err := p.runBuilder(ctx, rs, plan, request)
		if err != nil {
			if isQualityGateFailure(err) {
				return p.errorResult(rs, err), err
			}
			if rs.attempts >= maxAttempts(p.cfg.MaxRetries) {
				return p.failResult(rs, usedPlan, nil, rs.attempts), nil
			}
			continue
		}
		plan = usedPlan

		proceed, rerr := p.runArchitectReview(ctx, rs, request, plan, result, result.TouchedFiles)
		if rerr != nil {
			return p.errorResult(rs, rerr), rerr
		}
		if !proceed {
			if rs.attempts >= maxAttempts(p.cfg.MaxRetries) {
				return p.failResult(rs, plan, nil, rs.attempts), nil
			}
			continue
		}

		verdict, cerr := p.runCritic(ctx, rs, plan, result, result.TouchedFiles)
		if cerr != nil {
			return p.errorResult(rs, cerr), cerr
		}

		if verdict.Status == types.CriticPass {
			p.writebackMemory(ctx, rs, 0, "")
			return &RunResult{
				RunID: rs.runID, Status: StatusPass, Plan: plan, CriticResult: verdict,
				Attempts: rs.attempts, Context: rs.bundle, Research: rs.research,
			}, nil
		}

		if !verdict.Retryable || rs.attempts >= maxAttempts(p.cfg.MaxRetries) {
			p.writebackMemory(ctx, rs, rs.attempts, criticFailLesson(verdict))
			return &RunResult{
				RunID: rs.runID, Status: StatusFail, Plan: plan, CriticResult: verdict,
				Attempts: rs.attempts, Context: rs.bundle, Research: rs.research,
			}, nil
		}
		// retryable FAIL with attempts remaining: loop back to the builder.
	}
}

// discardEphemeralLanes drops the per-attempt builder lanes created during a
// retry sequence once the run concludes; the first attempt's lane (the
// scope-level one, with no attempt suffix) is left for the caller to inspect.
func (p *SmartPipeline) discardEphemeralLanes(rs *runState) {
	if p.deps.LaneManager == nil {
		return
	}
	for _, id := range rs.ephemeralLaneIDs {
		_ = p.deps.LaneManager.Discard(context.Background(), id)
	}
}

func maxAttempts(maxRetries int) int {
	if maxRetries < 0 {
		return 1
	}
	return maxRetries + 1
}

func isQualityGateFailure(err error) bool {
	var tagged *errs.Error
	return errors.As(err, &tagged) && tagged.Kind == errs.KindArchitectQualityGateFailed
}

// runLibrarian performs the initial context assembly. A
// low-confidence digest or an empty index surfaces as a warning, not a failure.
func (p *SmartPipeline) runLibrarian(ctx context.Context, rs *runState, request string) (*types.ContextBundle, error) {
	laneID := p.scope.LaneID("librarian")
	p.phaseStart(ctx, rs, "librarian", laneID, map[string]any{"request": request})

	bundle, err := p.deps.ContextAssembler.Assemble(ctx, request, types.AssembleOptions{DeepMode: p.cfg.DeepMode})
	if err != nil {
		return nil, fmt.Errorf("librarian: assemble: %w", err)
	}

	if bundle.Selection.LowConfidence {
		p.warn("librarian", laneID, "librarian_low_confidence_digest")
	}
	if bundle.Index.NumDocs == 0 {
		p.warn("librarian", laneID, "librarian_empty_index")
	}
	for _, w := range bundle.Warnings {
		p.warn("librarian", laneID, w)
	}

	p.phaseEnd(ctx, rs, "librarian", laneID, bundle)
	return bundle, nil
}

// runResearch drives the bounded research-cycle loop and
// attaches its output to the run's bundle.
func (p *SmartPipeline) runResearch(ctx context.Context, rs *runState, request string) error {
	laneID := p.scope.LaneID("research")
	p.phaseStart(ctx, rs, "research", laneID, map[string]any{"request": request})

	exec := research.New(p.deps.ContextAssembler, p.cfg.DeepInvestigation, func(report research.CycleReport) {
		event := report.Event
		if event == "" {
			event = "investigation_telemetry"
		}
		p.emit("research", laneID, event, report.Data)
	})

	out, err := exec.Run(ctx, request, rs.bundle)
	if err != nil {
		return err
	}
	rs.research = out
	rs.bundle.Research = out
	p.phaseEnd(ctx, rs, "research", laneID, out)
	return nil
}

// writebackMemory persists the run outcome for future preference/lesson recall:
// failures=0 and no lesson on PASS, failures=attempts and the critic's joined
// reasons as the lesson on FAIL.
func (p *SmartPipeline) writebackMemory(ctx context.Context, rs *runState, failures int, lesson string) {
	if p.deps.MemoryWriteback == nil {
		return
	}
	_ = p.deps.MemoryWriteback.Persist(ctx, types.MemoryWritebackRecord{
		Failures: failures, MaxRetries: p.cfg.MaxRetries, Lesson: lesson,
	})
}

func (p *SmartPipeline) failResult(rs *runState, plan *types.Plan, verdict *types.CriticResult, attempts int) *RunResult {
	p.writebackMemory(context.Background(), rs, attempts, criticFailLesson(verdict))
	return &RunResult{
		RunID: rs.runID, Status: StatusFail, Plan: plan, CriticResult: verdict,
		Attempts: attempts, Context: rs.bundle, Research: rs.research,
	}
}

func (p *SmartPipeline) errorResult(rs *runState, err error) *RunResult {
	return &RunResult{
		RunID: rs.runID, Status: StatusError, Attempts: rs.attempts,
		Context: rs.bundle, Research: rs.research, Err: err,
	}
}
