package pipeline

import (
	"context"
	"errors"
	"strings"

	"patchforge/internal/errs"
	"patchforge/internal/types"
)

// runCritic drives the critic call, its bounded AGENT_REQUEST recovery, and the
// PASS/FAIL(retryable) dispatch.
func (p *SmartPipeline) runCritic(ctx context.Context, rs *runState, plan *types.Plan, result *types.BuilderRunResult, touched []string) (*types.CriticResult, error) {
	laneID := p.scope.LaneID("critic")
	p.phaseStart(ctx, rs, "critic", laneID, map[string]any{"touched": touched})

	input := types.CriticEvalInput{Plan: plan, BuilderOutput: result, TouchedFiles: touched, LaneID: laneID}

	for {
		verdict, err := p.deps.Critic.Evaluate(ctx, input)
		if err != nil {
			var tagged *errs.Error
			if errors.As(err, &tagged) {
				if providerClass, ok := classifyProviderFailure(p.deps, tagged); ok {
					if p.handleProviderFallback(ctx, rs, "critic", tagged, providerClass) {
						continue
					}
				}
			}
			return nil, err
		}

		if verdict.Request != nil {
			if rs.contextRefreshes >= p.cfg.MaxContextRefreshes {
				return nil, errs.QualityGateError(errs.ReasonUnresolvedArchitectRequest)
			}
			rs.contextRefreshes++
			fulfilled, ferr := p.deps.ContextAssembler.FulfillAgentRequest(ctx, types.AgentRequest{
				RequestID: verdict.Request.RequestID, Needs: verdict.Request.Needs,
			})
			if ferr != nil {
				return nil, ferr
			}
			rs.bundle = p.mergeFulfillment(rs.bundle, fulfilled)
			p.warn("critic", laneID, "critic_agent_request_resolved")
			continue
		}

		p.phaseEnd(ctx, rs, "critic", laneID, verdict)
		return verdict, nil
	}
}

// runArchitectReview invokes ArchitectReviewer.ReviewBuilderOutput when the
// configured architect implements it, then applies the semantic guard
// (pipeline_quality_gates.go's semanticGuard). Returns (proceedToCritic, err).
func (p *SmartPipeline) runArchitectReview(ctx context.Context, rs *runState, request string, plan *types.Plan, result *types.BuilderRunResult, touched []string) (bool, error) {
	reviewer, ok := p.deps.Architect.(types.ArchitectReviewer)
	if !ok {
		return p.applySemanticGuard(request, plan, touched), nil
	}

	review, err := reviewer.ReviewBuilderOutput(ctx, plan, result, touched)
	if err != nil {
		return false, err
	}

	if review.Status == types.ReviewPass {
		return p.applySemanticGuard(request, plan, touched), nil
	}

	if len(review.Reasons) == 0 && len(review.Feedback) == 0 {
		p.warn("architect", p.scope.LaneID("architect"), "architect_review_retry_non_actionable")
		return p.applySemanticGuard(request, plan, touched), nil
	}

	if rs.reviewRetried {
		// a second consecutive RETRY is treated as actionable feedback for the
		// next builder attempt rather than an infinite review loop; the attempt
		// budget (maxRetries) is what ultimately bounds this.
		return false, nil
	}
	rs.reviewRetried = true
	p.emit("architect", p.scope.LaneID("architect"), "architect_review_retry", map[string]any{
		"reasons": review.Reasons, "feedback": review.Feedback,
	})
	return false, nil
}

// applySemanticGuard runs the keyword-coverage check after a review pass (or in
// its absence) and emits the architect_review_semantic_guard telemetry event.
func (p *SmartPipeline) applySemanticGuard(request string, plan *types.Plan, touched []string) bool {
	ok := semanticGuard(request, plan, touched)
	p.emit("architect", p.scope.LaneID("architect"), "architect_review_semantic_guard", map[string]any{"ok": ok})
	return ok
}

func criticFailLesson(result *types.CriticResult) string {
	if result == nil {
		return ""
	}
	return strings.Join(result.Reasons, "; ")
}
