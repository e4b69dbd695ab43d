package architect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"patchforge/internal/types"
)

type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func TestPlanParsesDSL(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"PLAN:\n- step: add handler\n- target: src/auth.go\n- verify: Run unit tests for auth\nrisk: low\nEND_PLAN",
	}}
	a := New(llm)

	res, err := a.Plan(context.Background(), &types.ContextBundle{Request: "add login"})
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	require.Equal(t, []string{"add handler"}, res.Plan.Steps)
	require.Equal(t, []string{"src/auth.go"}, res.Plan.TargetFiles)
	require.Equal(t, types.ResponseFormatDSL, res.ResponseFormatType)
}

func TestPlanDetectsAgentRequest(t *testing.T) {
	llm := &fakeLLM{responses: []string{`AGENT_REQUEST: {"request_id":"req-1","needs":["docdex.search"]}`}}
	a := New(llm)

	res, err := a.PlanWithRequest(context.Background(), &types.ContextBundle{}, types.PlanWithRequestOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Request)
	require.Equal(t, "req-1", res.Request.RequestID)
}

func TestPlanFallsBackToProseWithWarning(t *testing.T) {
	llm := &fakeLLM{responses: []string{"just do the obvious thing, no structure here"}}
	a := New(llm)

	res, err := a.Plan(context.Background(), &types.ContextBundle{})
	require.NoError(t, err)
	require.Equal(t, types.ResponseFormatProse, res.ResponseFormatType)
	require.Contains(t, res.Warnings, "architect_output_unstructured_plaintext")
}

func TestReviewBuilderOutputParsesPass(t *testing.T) {
	llm := &fakeLLM{responses: []string{"PASS"}}
	a := New(llm)

	result, err := a.ReviewBuilderOutput(context.Background(), &types.Plan{}, &types.BuilderRunResult{}, []string{"src/auth.go"})
	require.NoError(t, err)
	require.Equal(t, types.ReviewPass, result.Status)
}

func TestReviewBuilderOutputParsesRetryWithReason(t *testing.T) {
	llm := &fakeLLM{responses: []string{"RETRY: missing error handling"}}
	a := New(llm)

	result, err := a.ReviewBuilderOutput(context.Background(), &types.Plan{}, &types.BuilderRunResult{}, nil)
	require.NoError(t, err)
	require.Equal(t, types.ReviewRetry, result.Status)
	require.Equal(t, []string{"missing error handling"}, result.Reasons)
}
