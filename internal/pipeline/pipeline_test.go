package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patchforge/internal/config"
	"patchforge/internal/errs"
	"patchforge/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAssembler struct {
	bundle   *types.ContextBundle
	research *types.ResearchOutput
}

func (f *fakeAssembler) Assemble(ctx context.Context, request string, opts types.AssembleOptions) (*types.ContextBundle, error) {
	b := *f.bundle
	b.Request = request
	return &b, nil
}

func (f *fakeAssembler) RunResearchTools(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error) {
	if f.research != nil {
		return f.research, nil
	}
	return &types.ResearchOutput{Status: "ok"}, nil
}

func (f *fakeAssembler) FulfillAgentRequest(ctx context.Context, req types.AgentRequest) (*types.FulfillResult, error) {
	return &types.FulfillResult{RequestID: req.RequestID}, nil
}

type fakeArchitect struct {
	plan     *types.Plan
	warnings []string
	calls    int
}

func (f *fakeArchitect) Plan(ctx context.Context, bundle *types.ContextBundle) (*types.PlanResult, error) {
	return f.PlanWithRequest(ctx, bundle, types.PlanWithRequestOptions{})
}

func (f *fakeArchitect) PlanWithRequest(ctx context.Context, bundle *types.ContextBundle, opts types.PlanWithRequestOptions) (*types.PlanResult, error) {
	f.calls++
	return &types.PlanResult{Plan: f.plan, ResponseFormatType: types.ResponseFormatDSL, Warnings: f.warnings}, nil
}

type fakeBuilder struct {
	results []*types.BuilderRunResult
	errs    []error
	calls   int
}

func (f *fakeBuilder) Run(ctx context.Context, plan *types.Plan, bundle *types.ContextBundle, laneID string) (*types.BuilderRunResult, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	return f.results[i], nil
}

type fakeCritic struct {
	verdicts []*types.CriticResult
	calls    int
}

func (f *fakeCritic) Evaluate(ctx context.Context, input types.CriticEvalInput) (*types.CriticResult, error) {
	i := f.calls
	if i >= len(f.verdicts) {
		i = len(f.verdicts) - 1
	}
	f.calls++
	return f.verdicts[i], nil
}

type fakeMemory struct {
	records []types.MemoryWritebackRecord
}

func (f *fakeMemory) Persist(ctx context.Context, record types.MemoryWritebackRecord) error {
	f.records = append(f.records, record)
	return nil
}

func basicBundle() *types.ContextBundle {
	return &types.ContextBundle{
		Files:     []types.ContextFile{{Path: "internal/widget/widget.go"}},
		Selection: types.Selection{Focus: []string{"internal/widget/widget.go"}},
	}
}

func passingPlan() *types.Plan {
	return &types.Plan{
		Steps:        []string{"add a Frobnicate method to widget"},
		TargetFiles:  []string{"internal/widget/widget.go"},
		Verification: []string{"Run unit tests for internal/widget/widget.go"},
	}
}

func newTestPipeline(architect *fakeArchitect, builder *fakeBuilder, critic *fakeCritic, memory *fakeMemory, maxRetries int) *SmartPipeline {
	deps := Dependencies{
		ContextAssembler: &fakeAssembler{bundle: basicBundle()},
		Architect:        architect,
		Builder:          builder,
		Critic:           critic,
		MemoryWriteback:  memory,
	}
	cfg := config.DefaultConfig().Pipeline
	cfg.MaxRetries = maxRetries
	return New(deps, cfg, types.LaneScope{JobID: "job1", TaskID: "task1"})
}

func newTestPipelineWithAssembler(assembler types.ContextAssembler, architect *fakeArchitect, builder *fakeBuilder, critic *fakeCritic, memory *fakeMemory, cfg config.PipelineConfig) *SmartPipeline {
	deps := Dependencies{
		ContextAssembler: assembler,
		Architect:        architect,
		Builder:          builder,
		Critic:           critic,
		MemoryWriteback:  memory,
	}
	return New(deps, cfg, types.LaneScope{JobID: "job1", TaskID: "task1"})
}

func TestRunEndToEndPass(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan()}
	builder := &fakeBuilder{results: []*types.BuilderRunResult{
		types.NewApplyResult([]types.Patch{{Action: types.PatchReplace, File: "internal/widget/widget.go"}}, []string{"internal/widget/widget.go"}, 1),
	}}
	critic := &fakeCritic{verdicts: []*types.CriticResult{{Status: types.CriticPass}}}
	memory := &fakeMemory{}

	p := newTestPipeline(architect, builder, critic, memory, 1)
	result, err := p.Run(context.Background(), "add a Frobnicate method to widget")
	require.NoError(t, err)
	require.Equal(t, StatusPass, result.Status)
	require.Equal(t, 1, result.Attempts)
	if diff := cmp.Diff(passingPlan(), result.Plan); diff != "" {
		t.Errorf("unexpected plan (-want +got):\n%s", diff)
	}
	require.Len(t, memory.records, 1)
	require.Equal(t, 0, memory.records[0].Failures)
}

// TestRunHandlesNeedsContextRefresh covers the builder needs_context recovery
// path: a context request triggers a reassemble and an architect re-plan
// before the builder is retried, without consuming a retry attempt.
func TestRunHandlesNeedsContextRefresh(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan()}
	contextReq := types.NewContextRequestResult(types.ContextRequest{Queries: []string{"widget tests"}}, 1)
	applyResult := types.NewApplyResult([]types.Patch{{Action: types.PatchReplace, File: "internal/widget/widget.go"}}, []string{"internal/widget/widget.go"}, 1)
	builder := &fakeBuilder{results: []*types.BuilderRunResult{contextReq, applyResult}}
	critic := &fakeCritic{verdicts: []*types.CriticResult{{Status: types.CriticPass}}}
	memory := &fakeMemory{}

	p := newTestPipeline(architect, builder, critic, memory, 1)
	result, err := p.Run(context.Background(), "add a Frobnicate method to widget")

	require.NoError(t, err)
	require.Equal(t, StatusPass, result.Status)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, 2, builder.calls)
	require.GreaterOrEqual(t, architect.calls, 2)
}

// TestRunDeepModeTreatsEvidenceWarningAsTolerated covers deep-mode research
// tolerating a warnings-only evidence-gate miss (search succeeds but a docdex
// warning pushes the run over maxWarnings) and still handing off to the
// architect instead of failing the run.
func TestRunDeepModeTreatsEvidenceWarningAsTolerated(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan()}
	builder := &fakeBuilder{results: []*types.BuilderRunResult{
		types.NewApplyResult([]types.Patch{{Action: types.PatchReplace, File: "internal/widget/widget.go"}}, []string{"internal/widget/widget.go"}, 1),
	}}
	critic := &fakeCritic{verdicts: []*types.CriticResult{{Status: types.CriticPass}}}
	memory := &fakeMemory{}

	assembler := &fakeAssembler{bundle: basicBundle(), research: &types.ResearchOutput{
		Outputs: types.ResearchOutputs{
			SearchResults: []types.QueryResult{{Query: "widget", Hits: []types.SearchHit{{Path: "src/a.ts"}}}},
		},
		Warnings: []string{"research_docdex_search_failed"},
	}}

	cfg := config.DefaultConfig().Pipeline
	cfg.DeepMode = true
	cfg.DeepInvestigation = types.DeepInvestigationConfig{
		InvestigationBudget: types.InvestigationBudget{MinCycles: 1, MaxCycles: 1},
		EvidenceGate:        types.EvidenceGate{MinSearchHits: 1, MaxWarnings: 0},
	}

	p := newTestPipelineWithAssembler(assembler, architect, builder, critic, memory, cfg)
	result, err := p.Run(context.Background(), "add a Frobnicate method to widget")

	require.NoError(t, err)
	require.Equal(t, StatusPass, result.Status)
	require.NotNil(t, result.Research)
	require.Equal(t, 1, architect.calls)
}

// TestRunRepairsDeterministicPatchParseFailure covers the builder's
// deterministic apply-failure repair path: a patch_parse failure triggers an
// architect repair re-plan and a retry that does not consume a maxRetries
// attempt.
func TestRunRepairsDeterministicPatchParseFailure(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan()}
	applyResult := types.NewApplyResult([]types.Patch{{Action: types.PatchReplace, File: "internal/widget/widget.go"}}, []string{"internal/widget/widget.go"}, 1)
	parseErr := &errs.Error{Kind: errs.KindPatchApplyError, DeterministicKind: string(types.DeterministicPatchParse), Err: fmt.Errorf("patch parsing failed")}
	builder := &fakeBuilder{results: []*types.BuilderRunResult{nil, applyResult}, errs: []error{parseErr}}
	critic := &fakeCritic{verdicts: []*types.CriticResult{{Status: types.CriticPass}}}
	memory := &fakeMemory{}

	p := newTestPipeline(architect, builder, critic, memory, 1)
	result, err := p.Run(context.Background(), "add a Frobnicate method to widget")

	require.NoError(t, err)
	require.Equal(t, StatusPass, result.Status)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, 2, builder.calls)
	require.GreaterOrEqual(t, architect.calls, 2)
}

// TestRunFailsClosedOnRepeatedDeterministicPatchFailure covers fail-closed
// behavior when the same deterministic apply failure recurs past the repair
// cap and no provider fallback is configured: the run ends as a FAIL instead
// of repairing forever.
func TestRunFailsClosedOnRepeatedDeterministicPatchFailure(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan()}
	parseErr := &errs.Error{Kind: errs.KindPatchApplyError, DeterministicKind: string(types.DeterministicPatchParse), Err: fmt.Errorf("patch parsing failed")}
	builder := &fakeBuilder{results: []*types.BuilderRunResult{nil}, errs: []error{parseErr}}
	critic := &fakeCritic{}
	memory := &fakeMemory{}

	p := newTestPipeline(architect, builder, critic, memory, 0)
	result, err := p.Run(context.Background(), "add a Frobnicate method to widget")

	require.NoError(t, err)
	require.Equal(t, StatusFail, result.Status)
	require.GreaterOrEqual(t, architect.calls, 3)
}

func TestRunFailsClosedOnBlockingArchitectWarnings(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan(), warnings: []string{"architect_scope_too_large_blocking"}}
	builder := &fakeBuilder{}
	critic := &fakeCritic{}
	memory := &fakeMemory{}

	p := newTestPipeline(architect, builder, critic, memory, 1)
	result, err := p.Run(context.Background(), "rewrite the entire service")

	require.Error(t, err)
	require.Equal(t, StatusError, result.Status)
	var tagged *errs.Error
	require.ErrorAs(t, err, &tagged)
	require.Equal(t, errs.KindArchitectQualityGateFailed, tagged.Kind)
	require.Equal(t, 0, builder.calls)
}

func TestRunRetriesOnRetryableCriticFail(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan()}
	applyResult := types.NewApplyResult([]types.Patch{{Action: types.PatchReplace, File: "internal/widget/widget.go"}}, []string{"internal/widget/widget.go"}, 1)
	builder := &fakeBuilder{results: []*types.BuilderRunResult{applyResult, applyResult}}
	critic := &fakeCritic{verdicts: []*types.CriticResult{
		{Status: types.CriticFail, Retryable: true, Reasons: []string{"missing edge case"}},
		{Status: types.CriticPass},
	}}
	memory := &fakeMemory{}

	p := newTestPipeline(architect, builder, critic, memory, 1)
	result, err := p.Run(context.Background(), "add a Frobnicate method to widget")

	require.NoError(t, err)
	require.Equal(t, StatusPass, result.Status)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, 2, builder.calls)
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	architect := &fakeArchitect{plan: passingPlan()}
	applyResult := types.NewApplyResult([]types.Patch{{Action: types.PatchReplace, File: "internal/widget/widget.go"}}, []string{"internal/widget/widget.go"}, 1)
	builder := &fakeBuilder{results: []*types.BuilderRunResult{applyResult}}
	critic := &fakeCritic{verdicts: []*types.CriticResult{
		{Status: types.CriticFail, Retryable: true, Reasons: []string{"still wrong"}},
	}}
	memory := &fakeMemory{}

	p := newTestPipeline(architect, builder, critic, memory, 0)
	result, err := p.Run(context.Background(), "add a Frobnicate method to widget")

	require.NoError(t, err)
	require.Equal(t, StatusFail, result.Status)
	require.Equal(t, 1, result.Attempts)
	require.Len(t, memory.records, 1)
	require.Equal(t, 1, memory.records[0].Failures)
	require.Contains(t, memory.records[0].Lesson, "still wrong")
}
