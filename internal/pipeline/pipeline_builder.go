package pipeline

import (
	"context"
	"errors"
	"fmt"

	"patchforge/internal/errs"
	"patchforge/internal/types"
)

// runBuilder drives one builder attempt including its own bounded sub-recoveries
// (needs_context, deterministic patch-apply repair, provider-switch retry) that do
// not themselves consume a maxRetries attempt. The returned
// error, when non-nil and not an *errs.Error with Kind ArchitectQualityGateFailed,
// is a generic agent failure that DOES consume an attempt in the caller.
func (p *SmartPipeline) runBuilder(ctx context.Context, rs *runState, plan *types.Plan, request string) (*types.BuilderRunResult, *types.Plan, error) {
	laneID := p.laneForAttempt("builder", rs.attempts)
	if rs.attempts > 1 {
		rs.ephemeralLaneIDs = append(rs.ephemeralLaneIDs, laneID)
	}
	p.phaseStart(ctx, rs, "builder", laneID, map[string]any{"plan": plan})

	currentPlan := plan

	for {
		result, err := p.deps.Builder.Run(ctx, currentPlan, rs.bundle, laneID)
		if err == nil {
			if result.ContextRequest != nil {
				refreshed, replan, rerr := p.handleNeedsContext(ctx, rs, currentPlan, result.ContextRequest)
				if rerr != nil {
					return nil, nil, rerr
				}
				currentPlan = replan
				rs.bundle = refreshed
				continue
			}
			if result.FinalMessage != nil {
				// builder concluded without patches; treat as a non-actionable
				// attempt that still consumes a retry via the generic path.
				return nil, currentPlan, fmt.Errorf("builder: no patches produced: %s", result.FinalMessage.Content)
			}
			p.phaseEnd(ctx, rs, "builder", laneID, result)
			return result, currentPlan, nil
		}

		var tagged *errs.Error
		if errors.As(err, &tagged) {
			if tagged.Kind == errs.KindPatchApplyError {
				nextPlan, retry, ferr := p.handleApplyFailure(ctx, rs, currentPlan, tagged, request)
				if ferr != nil {
					return nil, nil, ferr
				}
				if retry {
					currentPlan = nextPlan
					continue
				}
			}
			if providerClass, ok := classifyProviderFailure(p.deps, tagged); ok {
				if p.handleProviderFallback(ctx, rs, "builder", tagged, providerClass) {
					continue
				}
				return nil, nil, tagged
			}
		}

		// Non-provider, non-apply exception: consumes one attempt.
		return nil, currentPlan, err
	}
}

func (p *SmartPipeline) laneForAttempt(role string, attempt int) string {
	scope := p.scope
	if attempt > 1 {
		scope.Attempt = attempt
	}
	return scope.LaneID(role)
}

// handleNeedsContext implements the builder's needs_context recovery: reassemble
// context with the builder's requested queries/files merged in, then
// re-run the architect on the refreshed bundle, and retry the builder. The
// re-plan call passes no instruction hint naming the refresh. Bounded
// by maxContextRefreshes; does not consume a maxRetries attempt.
func (p *SmartPipeline) handleNeedsContext(ctx context.Context, rs *runState, plan *types.Plan, req *types.ContextRequest) (*types.ContextBundle, *types.Plan, error) {
	if rs.contextRefreshes >= p.cfg.MaxContextRefreshes {
		return nil, nil, errs.QualityGateError(errs.ReasonMissingConcreteTargets)
	}
	rs.contextRefreshes++

	refreshed, err := p.deps.ContextAssembler.Assemble(ctx, rs.bundle.Request, types.AssembleOptions{
		AdditionalQueries: req.Queries,
		PreferredFiles:    req.Files,
		ForceFocusFiles:   req.Files,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("builder: needs_context reassemble: %w", err)
	}

	prevBundle := rs.bundle
	rs.bundle = refreshed
	newPlan, perr := p.runArchitect(ctx, rs, refreshed.Request, nil)
	if perr != nil {
		rs.bundle = prevBundle
		return nil, nil, perr
	}
	return refreshed, newPlan, nil
}

// handleApplyFailure implements deterministic apply-failure classification and a
// bounded architect-repair-then-retry (at most one per distinct failure kind).
func (p *SmartPipeline) handleApplyFailure(ctx context.Context, rs *runState, plan *types.Plan, tagged *errs.Error, request string) (*types.Plan, bool, error) {
	kind := types.DeterministicKind(tagged.DeterministicKind)
	if kind == "" {
		return nil, false, tagged
	}

	rs.deterministicRepairs[kind]++
	if rs.deterministicRepairs[kind] > 2 {
		if p.handleProviderFallback(ctx, rs, "builder", tagged, "deterministic_patch_parse") {
			return plan, true, nil
		}
		p.emit("builder", p.laneForAttempt("builder", rs.attempts), "builder_apply_failed_deterministic_no_repair", map[string]any{"kind": kind, "action": "fail_closed"})
		return nil, false, tagged
	}

	p.emit("builder", p.laneForAttempt("builder", rs.attempts), "builder_apply_failed_deterministic", map[string]any{"kind": kind, "repair_count": rs.deterministicRepairs[kind]})

	newPlan, perr := p.runArchitect(ctx, rs, request, nil)
	if perr != nil {
		return nil, false, perr
	}
	synthesizeVerificationIfNeeded(newPlan)
	return newPlan, true, nil
}

// classifyProviderFailure checks a tagged error's ProviderClass, falling back to
// errs.ClassifyProviderError's built-in text patterns.
func classifyProviderFailure(deps Dependencies, tagged *errs.Error) (string, bool) {
	if tagged.ProviderClass != "" {
		return tagged.ProviderClass, true
	}
	return errs.ClassifyProviderError(tagged.Err)
}

// handleProviderFallback invokes the configured onPhaseProviderFailure hook, at
// most once per phase per run. rs is the calling run's own state; fallback
// bookkeeping lives there rather than on the receiver so concurrent Run calls
// against the same SmartPipeline never share it.
func (p *SmartPipeline) handleProviderFallback(ctx context.Context, rs *runState, phase string, tagged *errs.Error, reason string) bool {
	if rs.providerFallbackUsed[phase] {
		return false
	}
	if p.deps.OnPhaseProviderFailure == nil {
		return false
	}
	decision := p.deps.OnPhaseProviderFailure(ctx, types.PhaseProviderFailure{Phase: phase, Error: tagged})
	if decision.Switched {
		p.emit(phase, p.scope.LaneID(phase), "phase_provider_fallback", map[string]any{"reason": reason, "note": decision.Note})
		rs.providerFallbackUsed[phase] = true
		return true
	}
	return false
}
