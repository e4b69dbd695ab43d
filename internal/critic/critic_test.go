package critic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"patchforge/internal/types"
)

type fakeLLM struct {
	response string
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, nil
}

func TestEvaluatePass(t *testing.T) {
	a := New(&fakeLLM{response: "PASS"})
	res, err := a.Evaluate(context.Background(), types.CriticEvalInput{Plan: &types.Plan{}})
	require.NoError(t, err)
	require.Equal(t, types.CriticPass, res.Status)
}

func TestEvaluateFailRetryable(t *testing.T) {
	a := New(&fakeLLM{response: `FAIL
retryable: true
REASONS: ["missing test coverage"]`})
	res, err := a.Evaluate(context.Background(), types.CriticEvalInput{Plan: &types.Plan{}})
	require.NoError(t, err)
	require.Equal(t, types.CriticFail, res.Status)
	require.True(t, res.Retryable)
	require.Equal(t, []string{"missing test coverage"}, res.Reasons)
}

func TestEvaluateAgentRequest(t *testing.T) {
	a := New(&fakeLLM{response: `AGENT_REQUEST: {"request_id":"req-2","needs":["docdex.open"]}`})
	res, err := a.Evaluate(context.Background(), types.CriticEvalInput{Plan: &types.Plan{}})
	require.NoError(t, err)
	require.NotNil(t, res.Request)
	require.Equal(t, "req-2", res.Request.RequestID)
}

func TestEvaluateUnstructuredOutputIsConservativeRetry(t *testing.T) {
	a := New(&fakeLLM{response: "looks fine to me I guess"})
	res, err := a.Evaluate(context.Background(), types.CriticEvalInput{Plan: &types.Plan{}})
	require.NoError(t, err)
	require.Equal(t, types.CriticFail, res.Status)
	require.True(t, res.Retryable)
}
