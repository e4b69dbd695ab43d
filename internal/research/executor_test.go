package research

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patchforge/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAssembler struct {
	outputs []*types.ResearchOutput
	calls   int
}

func (f *fakeAssembler) Assemble(ctx context.Context, request string, opts types.AssembleOptions) (*types.ContextBundle, error) {
	return &types.ContextBundle{}, nil
}

func (f *fakeAssembler) RunResearchTools(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error) {
	idx := f.calls
	if idx >= len(f.outputs) {
		idx = len(f.outputs) - 1
	}
	f.calls++
	return f.outputs[idx], nil
}

func (f *fakeAssembler) FulfillAgentRequest(ctx context.Context, req types.AgentRequest) (*types.FulfillResult, error) {
	return &types.FulfillResult{}, nil
}

func richOutput() *types.ResearchOutput {
	return &types.ResearchOutput{
		ToolRuns: []types.ToolRun{
			{Tool: "search", OK: true},
			{Tool: "open_or_snippet", OK: true},
			{Tool: "symbols_or_ast", OK: true},
			{Tool: "impact", OK: true},
			{Tool: "tree", OK: true},
		},
		Outputs: types.ResearchOutputs{
			SearchResults: []types.QueryResult{{Query: "q", Hits: []types.SearchHit{{Path: "a.go"}}}},
			Snippets:      []types.SnippetInfo{{Path: "a.go"}},
			Symbols:       []types.SymbolInfo{{Path: "a.go"}},
			Impact:        []types.ImpactInfo{{Path: "a.go"}},
		},
	}
}

func sparseOutput() *types.ResearchOutput {
	return &types.ResearchOutput{
		ToolRuns: []types.ToolRun{{Tool: "search", OK: false}},
		Warnings: []string{"research_docdex_search_failed"},
	}
}

func defaultCfg() types.DeepInvestigationConfig {
	return types.DeepInvestigationConfig{
		ToolQuota:           types.ToolQuota{Search: 1, OpenOrSnippet: 1, SymbolsOrAST: 1, Impact: 1},
		InvestigationBudget: types.InvestigationBudget{MinCycles: 1, MaxCycles: 3},
		EvidenceGate:        types.EvidenceGate{MinSearchHits: 1, MinOpenOrSnippet: 1, MinSymbolsOrAST: 1, MinImpact: 1, MaxWarnings: 5},
	}
}

func TestExecutorSucceedsOnFirstCycleWhenEvidenceSufficient(t *testing.T) {
	fa := &fakeAssembler{outputs: []*types.ResearchOutput{richOutput()}}
	e := New(fa, defaultCfg(), nil)

	out, err := e.Run(context.Background(), "investigate auth", &types.ContextBundle{})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Status)
	require.Equal(t, 1, out.Cycles)
	require.Equal(t, 1, fa.calls)
	if diff := cmp.Diff(richOutput().Outputs, out.Outputs, cmpopts.IgnoreFields(types.ResearchOutputs{}, "RepoMap", "DagSummary")); diff != "" {
		t.Errorf("unexpected research outputs (-want +got):\n%s", diff)
	}
}

func TestExecutorTreatsDocdexOnlyQuotaMissAsTolerated(t *testing.T) {
	cfg := defaultCfg()
	cfg.InvestigationBudget.MinCycles = 1
	cfg.InvestigationBudget.MaxCycles = 1
	cfg.EvidenceGate = types.EvidenceGate{MaxWarnings: 10}

	fa := &fakeAssembler{outputs: []*types.ResearchOutput{sparseOutput()}}
	e := New(fa, cfg, nil)

	out, err := e.Run(context.Background(), "investigate", &types.ContextBundle{})
	require.NoError(t, err)
	require.NotNil(t, out)
}

func TestExecutorFailsWithBudgetUnmetWhenQuotaNeverToleratedAndMinCyclesUnmet(t *testing.T) {
	cfg := defaultCfg()
	cfg.InvestigationBudget.MinCycles = 5
	cfg.InvestigationBudget.MaxCycles = 2

	out := sparseOutput()
	out.Warnings = nil // no docdex warning => not tolerated, and a non-empty ToolRuns gives quota misses
	fa := &fakeAssembler{outputs: []*types.ResearchOutput{out}}
	e := New(fa, cfg, nil)

	_, err := e.Run(context.Background(), "investigate", &types.ContextBundle{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "deep_investigation_budget_unmet")
}

func TestExecutorReportsCycleTelemetry(t *testing.T) {
	var reports []CycleReport
	fa := &fakeAssembler{outputs: []*types.ResearchOutput{richOutput()}}
	e := New(fa, defaultCfg(), func(r CycleReport) { reports = append(reports, r) })

	_, err := e.Run(context.Background(), "investigate", &types.ContextBundle{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, 1, reports[0].CycleNumber)
}
