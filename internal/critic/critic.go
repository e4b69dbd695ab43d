// Package critic implements the Critic phase adapter: asks an
// injected LLMClient to judge a builder attempt, parsing PASS/FAIL plus a
// retryable flag and reasons.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"patchforge/internal/types"
)

var (
	verdictRe      = regexp.MustCompile(`(?i)^\s*(PASS|FAIL)\b`)
	retryableRe    = regexp.MustCompile(`(?i)retryable\s*:\s*(true|false)`)
	reasonsBlockRe = regexp.MustCompile(`(?s)REASONS:\s*(\[.*\])`)
	agentRequestRe = regexp.MustCompile(`(?s)AGENT_REQUEST:\s*(\{.*\})`)
)

// Adapter implements types.CriticEvaluator against an injected LLMClient.
type Adapter struct {
	llm types.LLMClient
}

// New builds a critic Adapter.
func New(llm types.LLMClient) *Adapter {
	return &Adapter{llm: llm}
}

// Evaluate implements types.CriticEvaluator.Evaluate.
func (a *Adapter) Evaluate(ctx context.Context, input types.CriticEvalInput) (*types.CriticResult, error) {
	system := `You are the critic phase of a code-change pipeline. Judge whether the patches satisfy the plan.
Respond starting with PASS or FAIL, then on following lines "retryable: true|false" and "REASONS: [...]".
If you need more context before judging, respond with AGENT_REQUEST: {"request_id":"...","needs":[...]}`
	user := buildUserPrompt(input)

	raw, err := a.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("critic: llm call failed: %w", err)
	}

	if m := agentRequestRe.FindStringSubmatch(raw); m != nil {
		var req types.AgentRequest
		if err := json.Unmarshal([]byte(m[1]), &req); err == nil {
			return &types.CriticResult{
				Status: types.CriticFail,
				Request: &types.CriticRequest{Role: "critic", RequestID: req.RequestID, Needs: req.Needs},
			}, nil
		}
	}

	return parseVerdict(raw), nil
}

func buildUserPrompt(input types.CriticEvalInput) string {
	var sb strings.Builder
	if input.Plan != nil {
		sb.WriteString("Plan steps:\n")
		for _, s := range input.Plan.Steps {
			sb.WriteString("- " + s + "\n")
		}
	}
	sb.WriteString("\nTouched files: " + strings.Join(input.TouchedFiles, ", ") + "\n")
	return sb.String()
}

func parseVerdict(raw string) *types.CriticResult {
	m := verdictRe.FindStringSubmatch(raw)
	if m == nil {
		// Unstructured critic output: treat conservatively as a retryable failure.
		return &types.CriticResult{Status: types.CriticFail, Retryable: true, Reasons: []string{"critic_output_unstructured"}}
	}

	status := types.CriticStatus(strings.ToUpper(m[1]))
	result := &types.CriticResult{Status: status}
	if status == types.CriticPass {
		return result
	}

	if rm := retryableRe.FindStringSubmatch(raw); rm != nil {
		result.Retryable = strings.EqualFold(rm[1], "true")
	}
	if rb := reasonsBlockRe.FindStringSubmatch(raw); rb != nil {
		var reasons []string
		if err := json.Unmarshal([]byte(rb[1]), &reasons); err == nil {
			result.Reasons = reasons
		}
	}
	if len(result.Reasons) == 0 {
		result.Reasons = []string{strings.TrimSpace(raw)}
	}
	return result
}
