// Package architect implements the Architect phase adapter:
// drives an injected LLMClient to produce a Plan from a ContextBundle, parsing
// the response as DSL, JSON, or prose (in that preference order) and detecting
// AGENT_REQUEST payloads. Uses a system+user prompt.
package architect

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"patchforge/internal/types"
)

var (
	dslPlanBlock   = regexp.MustCompile(`(?s)PLAN:\s*\n(.*?)\nEND_PLAN`)
	dslStepLine    = regexp.MustCompile(`(?m)^\s*-\s*step:\s*(.+)$`)
	dslTargetLine  = regexp.MustCompile(`(?m)^\s*-\s*target:\s*(.+)$`)
	dslVerifyLine  = regexp.MustCompile(`(?m)^\s*-\s*verify:\s*(.+)$`)
	dslRiskLine    = regexp.MustCompile(`(?m)^\s*risk:\s*(.+)$`)
	agentRequestRe = regexp.MustCompile(`(?s)AGENT_REQUEST:\s*(\{.*\})`)
	jsonObjectRe   = regexp.MustCompile(`(?s)\{.*\}`)
)

// Adapter implements types.ArchitectPlanner (and types.ArchitectReviewer, detected
// by the pipeline via type assertion since it is satisfied here).
type Adapter struct {
	llm types.LLMClient
}

// New builds an architect Adapter around an LLM client.
func New(llm types.LLMClient) *Adapter {
	return &Adapter{llm: llm}
}

// Plan implements types.ArchitectPlanner.Plan.
func (a *Adapter) Plan(ctx context.Context, bundle *types.ContextBundle) (*types.PlanResult, error) {
	return a.PlanWithRequest(ctx, bundle, types.PlanWithRequestOptions{})
}

// PlanWithRequest implements types.ArchitectPlanner.PlanWithRequest.
func (a *Adapter) PlanWithRequest(ctx context.Context, bundle *types.ContextBundle, opts types.PlanWithRequestOptions) (*types.PlanResult, error) {
	system := buildSystemPrompt(opts)
	user := buildUserPrompt(bundle, opts)

	raw, err := a.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("architect: llm call failed: %w", err)
	}

	if req := parseAgentRequest(raw); req != nil {
		return &types.PlanResult{Request: req, RawOutput: raw}, nil
	}

	plan, format, warnings := parsePlan(raw)
	return &types.PlanResult{Plan: plan, RawOutput: raw, ResponseFormatType: format, Warnings: warnings}, nil
}

// ReviewBuilderOutput implements the optional types.ArchitectReviewer capability:
// asks the same LLM client to judge whether the builder's patches satisfy the
// plan, PASS/RETRY.
func (a *Adapter) ReviewBuilderOutput(ctx context.Context, plan *types.Plan, result *types.BuilderRunResult, touched []string) (*types.ReviewResult, error) {
	system := "You are reviewing a code change against an implementation plan. Respond with exactly one line: PASS or RETRY: <reason>."
	user := fmt.Sprintf("Plan steps:\n%s\n\nTouched files: %s\n", strings.Join(plan.Steps, "\n"), strings.Join(touched, ", "))

	raw, err := a.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("architect: review call failed: %w", err)
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToUpper(trimmed), "PASS") {
		return &types.ReviewResult{Status: types.ReviewPass}, nil
	}
	reason := strings.TrimSpace(strings.TrimPrefix(trimmed, "RETRY:"))
	if reason == "" {
		return &types.ReviewResult{
			Status:   types.ReviewRetry,
			Warnings: []string{"architect_review_missing_reason"},
		}, nil
	}
	return &types.ReviewResult{Status: types.ReviewRetry, Reasons: []string{reason}}, nil
}

func buildSystemPrompt(opts types.PlanWithRequestOptions) string {
	format := opts.ResponseFormat
	if format == "" {
		format = types.ResponseFormatDSL
	}
	var sb strings.Builder
	sb.WriteString("You are the architect phase of a code-change pipeline. Produce an implementation plan.\n")
	switch format {
	case types.ResponseFormatJSON:
		sb.WriteString("Respond as JSON: {\"steps\":[...],\"target_files\":[...],\"risk_assessment\":\"...\",\"verification\":[...]}\n")
	default:
		sb.WriteString("Respond in this exact DSL:\nPLAN:\n- step: <...>\n- target: <path>\n- verify: <...>\nrisk: <...>\nEND_PLAN\n")
	}
	sb.WriteString("If you need more context before planning, respond with AGENT_REQUEST: {\"request_id\":\"...\",\"needs\":[...]}\n")
	if opts.InstructionHint != "" {
		sb.WriteString("\nINSTRUCTION: " + opts.InstructionHint + "\n")
	}
	return sb.String()
}

func buildUserPrompt(bundle *types.ContextBundle, opts types.PlanWithRequestOptions) string {
	var sb strings.Builder
	if bundle != nil {
		sb.WriteString("Request: " + bundle.Request + "\n\n")
		for _, f := range bundle.Selection.Focus {
			sb.WriteString("Focus file: " + f + "\n")
		}
	}
	if opts.PlanHint != nil {
		sb.WriteString("\nProposed plan hint (validate, do not restart from scratch):\n")
		sb.WriteString(strings.Join(opts.PlanHint.Steps, "\n"))
	}
	if opts.ValidateOnly {
		sb.WriteString("\nThis is a validate-only pass: confirm or reject the hint, do not produce a new plan from scratch.\n")
	}
	return sb.String()
}

func parseAgentRequest(raw string) *types.AgentRequest {
	m := agentRequestRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	var req types.AgentRequest
	if err := json.Unmarshal([]byte(m[1]), &req); err != nil {
		return nil
	}
	return &req
}

// parsePlan tries DSL first, then JSON, then falls back to a prose plan wrapping
// the raw text as a single step (emitting architect_output_unstructured_plaintext).
func parsePlan(raw string) (*types.Plan, types.ResponseFormat, []string) {
	if m := dslPlanBlock.FindStringSubmatch(raw); m != nil {
		body := m[1]
		plan := &types.Plan{
			Steps:       matchesGroup1(dslStepLine, body),
			TargetFiles: matchesGroup1(dslTargetLine, body),
			Verification: matchesGroup1(dslVerifyLine, body),
		}
		if rm := dslRiskLine.FindStringSubmatch(body); rm != nil {
			plan.RiskAssessment = strings.TrimSpace(rm[1])
		}
		return plan, types.ResponseFormatDSL, nil
	}

	if m := jsonObjectRe.FindString(raw); m != "" {
		var jp types.Plan
		if err := json.Unmarshal([]byte(m), &jp); err == nil && (len(jp.Steps) > 0 || len(jp.TargetFiles) > 0) {
			return &jp, types.ResponseFormatJSON, nil
		}
	}

	trimmed := strings.TrimSpace(raw)
	plan := &types.Plan{
		Steps:    []string{trimmed},
		Warnings: []string{"architect_output_unstructured_plaintext"},
	}
	return plan, types.ResponseFormatProse, []string{"architect_output_unstructured_plaintext"}
}

func matchesGroup1(re *regexp.Regexp, s string) []string {
	matches := re.FindAllStringSubmatch(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
