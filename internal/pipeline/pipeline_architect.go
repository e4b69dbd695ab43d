package pipeline

import (
	"context"
	"errors"
	"fmt"

	"patchforge/internal/errs"
	"patchforge/internal/types"
)

// runArchitect drives the bounded architect loop, returning a usable Plan or a tagged pre-builder quality-gate
// error.
func (p *SmartPipeline) runArchitect(ctx context.Context, rs *runState, request string, planHint *types.Plan) (*types.Plan, error) {
	laneID := p.scope.LaneID("architect")
	p.phaseStart(ctx, rs, "architect", laneID, map[string]any{"request": request})

	if p.deps.FastPath != nil && p.deps.FastPath(request) {
		if p.cfg.DeepMode {
			p.warn("architect", laneID, "fast_path_overridden")
		} else {
			plan := synthesizeFastPathPlan(rs.bundle)
			synthesizeVerificationIfNeeded(plan)
			artifact := &types.ArchitectArtifact{
				Pass: 1, Source: types.PlanSourceFastPath, RawOutput: "",
				NormalizedOutput: plan, ResponseFormatType: types.ResponseFormatDSL,
			}
			p.phaseEnd(ctx, rs, "architect", laneID, artifact)
			return plan, nil
		}
	}

	opts := types.PlanWithRequestOptions{ResponseFormat: types.ResponseFormatDSL}

	if planHint != nil {
		if p.cfg.DeepMode {
			p.warn("architect", laneID, "plan_hint_suppressed")
		} else if plan, ok := p.tryPlanHint(ctx, rs, laneID, planHint); ok {
			p.phaseEnd(ctx, rs, "architect", laneID, plan)
			return plan, nil
		}
	}

	agentRequestResolved := false
	nonDSLRetried := false
	invalidTargetRetried := false

	var lastPlan *types.Plan

	for rs.architectPasses < 3 {
		rs.architectPasses++
		res, err := p.deps.Architect.PlanWithRequest(ctx, rs.bundle, opts)
		if err != nil {
			return nil, fmt.Errorf("architect: %w", err)
		}

		if res.Request != nil {
			if agentRequestResolved {
				return p.qualityGateFail(laneID, errs.ReasonUnresolvedArchitectRequest)
			}
			agentRequestResolved = true
			fulfilled, ferr := p.deps.ContextAssembler.FulfillAgentRequest(ctx, *res.Request)
			if ferr != nil {
				return nil, fmt.Errorf("architect: fulfillAgentRequest: %w", ferr)
			}
			rs.bundle = p.mergeFulfillment(rs.bundle, fulfilled)
			opts.InstructionHint = "REVISION REQUIRED: architect_request_recovery. Do not restart from scratch."
			p.emit("architect", laneID, "architect_revision_requested", map[string]any{"request_id": res.Request.RequestID})
			continue
		}

		plan := res.Plan
		lastPlan = plan
		source := types.PlanSourceAgent
		if opts.InstructionHint != "" {
			source = types.PlanSourceRevisionRetry
		}
		artifact := &types.ArchitectArtifact{
			Pass: rs.architectPasses, Source: source, RawOutput: res.RawOutput,
			NormalizedOutput: plan, ResponseFormatType: res.ResponseFormatType,
			StructuralGrounding: computeStructuralGrounding(plan, rs.bundle),
		}
		p.writeArtifact("architect", "output", artifact)

		if containsWarning(res.Warnings, "architect_output_unstructured_plaintext") {
			if nonDSLRetried {
				if agentRequestResolved {
					return p.qualityGateFail(laneID, errs.ReasonUnresolvedArchitectRequest)
				}
				return p.qualityGateFail(laneID, errs.ReasonBlockingArchitectWarnings)
			}
			nonDSLRetried = true
			opts.ResponseFormat = types.ResponseFormatDSL
			opts.InstructionHint = "Revise in place using the exact DSL response format."
			p.emit("architect", laneID, "architect_retry_strategy", map[string]any{"strategy": "non_dsl_repair"})
			continue
		}

		if hasBlockingWarnings(res.Warnings) {
			return p.qualityGateFail(laneID, errs.ReasonBlockingArchitectWarnings)
		}

		if invalid := invalidTargets(plan, rs.bundle); len(invalid) > 0 {
			if invalidTargetRetried {
				p.writeArtifact("architect", "quality_gate_degrade", map[string]any{"invalid_targets": invalid})
				if len(plan.TargetFiles) == 0 {
					return p.qualityGateFail(laneID, errs.ReasonMissingConcreteTargets)
				}
				return p.qualityGateFail(laneID, errs.ReasonInvalidTargetPaths)
			}
			invalidTargetRetried = true
			opts.InstructionHint = "invalid_target_paths. Do not restart from scratch."
			p.emit("architect", laneID, "architect_retry_strategy", map[string]any{"strategy": "invalid_target_paths"})
			continue
		}

		if alignmentCritical(request, plan) {
			return p.qualityGateFail(laneID, errs.ReasonLowRequestTargetAlignment)
		}

		if isEndpointIntentFrontendOnly(request, plan, rs.bundle) {
			if !rs.backendHintRetried {
				rs.backendHintRetried = true
				opts.InstructionHint = "REVISION REQUIRED: this request implies a backend endpoint change; include the backend implementation, not only frontend-facing files."
				p.emit("architect", laneID, "architect_retry_strategy", map[string]any{"strategy": "relevance_endpoint_missing_backend"})
				continue
			}
			p.emit("architect", laneID, "architect_degraded", map[string]any{"reason": "relevance_endpoint_missing_backend"})
		}

		synthesizeVerificationIfNeeded(plan)
		p.phaseEnd(ctx, rs, "architect", laneID, artifact)
		return plan, nil
	}

	if lastPlan != nil {
		synthesizeVerificationIfNeeded(lastPlan)
		p.phaseEnd(ctx, rs, "architect", laneID, lastPlan)
		return lastPlan, nil
	}
	return p.qualityGateFail(laneID, errs.ReasonBlockingArchitectWarnings)
}

// qualityGateFail emits the architect_quality_gate telemetry event and returns
// the corresponding tagged pre-builder quality-gate error.
func (p *SmartPipeline) qualityGateFail(laneID string, reason errs.QualityGateReason) (*types.Plan, error) {
	p.emit("architect", laneID, "architect_quality_gate", map[string]any{"reason": reason})
	return nil, errs.QualityGateError(reason)
}

// tryPlanHint implements : a validate-only pass against a caller-
// supplied plan hint, falling through to full planning on PlanHintValidationError.
func (p *SmartPipeline) tryPlanHint(ctx context.Context, rs *runState, laneID string, hint *types.Plan) (*types.Plan, bool) {
	opts := types.PlanWithRequestOptions{PlanHint: hint, ValidateOnly: true, ResponseFormat: types.ResponseFormatDSL}
	res, err := p.deps.Architect.PlanWithRequest(ctx, rs.bundle, opts)

	var tagged *errs.Error
	if errors.As(err, &tagged) && tagged.Kind == errs.KindPlanHintValidationError {
		p.warn("architect", laneID, "architect_plan_hint_validate_fallback")
		return nil, false
	}
	if err != nil || res.Plan == nil {
		return nil, false
	}
	rs.architectPasses++
	synthesizeVerificationIfNeeded(res.Plan)
	artifact := &types.ArchitectArtifact{
		Pass: rs.architectPasses, Source: types.PlanSourceAgent, RawOutput: res.RawOutput,
		NormalizedOutput: res.Plan, ResponseFormatType: res.ResponseFormatType,
		StructuralGrounding: computeStructuralGrounding(res.Plan, rs.bundle),
	}
	p.writeArtifact("architect", "output", artifact)
	return res.Plan, true
}

// mergeFulfillment merges an AGENT_REQUEST fulfillment's needs back into the
// bundle as additional context by re-assembling with the fulfilled queries/files.
func (p *SmartPipeline) mergeFulfillment(bundle *types.ContextBundle, fulfilled *types.FulfillResult) *types.ContextBundle {
	var queries, files []string
	for _, r := range fulfilled.Results {
		if !r.OK {
			continue
		}
		switch v := r.Result.(type) {
		case []types.SearchHit:
			for _, h := range v {
				files = append(files, h.Path)
			}
		case types.SnippetInfo:
			files = append(files, v.Path)
		}
		queries = append(queries, r.Need)
	}
	if len(queries) == 0 && len(files) == 0 {
		return bundle
	}
	refreshed, err := p.deps.ContextAssembler.Assemble(context.Background(), bundle.Request, types.AssembleOptions{
		AdditionalQueries: queries,
		PreferredFiles:    files,
		ForceFocusFiles:   files,
	})
	if err != nil {
		return bundle
	}
	return refreshed
}

func synthesizeFastPathPlan(bundle *types.ContextBundle) *types.Plan {
	var targets []string
	if bundle != nil {
		targets = append(targets, bundle.Selection.Focus...)
	}
	if len(targets) == 0 {
		targets = []string{"(no focus files identified)"}
	}
	return &types.Plan{
		Steps:       []string{"Apply the requested change directly against the identified focus files."},
		TargetFiles: targets,
	}
}
