package types

import "context"

// ContextAssembler produces and refreshes the evidence bundle that drives a run.
type ContextAssembler interface {
	Assemble(ctx context.Context, request string, opts AssembleOptions) (*ContextBundle, error)
	RunResearchTools(ctx context.Context, request string, bundle *ContextBundle) (*ResearchOutput, error)
	FulfillAgentRequest(ctx context.Context, req AgentRequest) (*FulfillResult, error)
}

// ArchitectPlanner produces a Plan from a ContextBundle. Implementations may
// additionally satisfy ArchitectReviewer; the pipeline feature-detects that at
// each review via a type assertion, the same pattern optional-capability
// interfaces (GroundingProvider, FileProvider, ...) use elsewhere in this codebase.
type ArchitectPlanner interface {
	Plan(ctx context.Context, bundle *ContextBundle) (*PlanResult, error)
	PlanWithRequest(ctx context.Context, bundle *ContextBundle, opts PlanWithRequestOptions) (*PlanResult, error)
}

// ArchitectReviewer is the optional capability an ArchitectPlanner may additionally
// expose to review builder output before the critic runs.
type ArchitectReviewer interface {
	ReviewBuilderOutput(ctx context.Context, plan *Plan, result *BuilderRunResult, touched []string) (*ReviewResult, error)
}

// BuilderRunner drives the code-writing agent for one attempt.
type BuilderRunner interface {
	Run(ctx context.Context, plan *Plan, bundle *ContextBundle, laneID string) (*BuilderRunResult, error)
}

// CriticEvaluator judges a builder attempt's output.
type CriticEvaluator interface {
	Evaluate(ctx context.Context, input CriticEvalInput) (*CriticResult, error)
}

// MemoryWriteback persists the outcome of a run for future preference/lesson recall.
type MemoryWriteback interface {
	Persist(ctx context.Context, record MemoryWritebackRecord) error
}

// MemoryWritebackRecord is the payload MemoryWriteback.Persist receives.
type MemoryWritebackRecord struct {
	Failures   int    `json:"failures"`
	MaxRetries int    `json:"maxRetries"`
	Lesson     string `json:"lesson"`
}

// Logger is the structured event sink and artifact writer injected into the
// pipeline.
type Logger interface {
	Log(eventType string, data map[string]any)
	WritePhaseArtifact(phase, kind string, payload any) (path string, err error)
}

// LaneManager is the per-phase conversation lane store.
type LaneManager interface {
	GetLane(ctx context.Context, opts GetLaneOptions) (*Lane, error)
	Append(ctx context.Context, laneID string, msg LaneMessage) error
	Discard(ctx context.Context, laneID string) error
}

// PhaseProviderFailure describes a phase-level agent failure eligible for
// provider-fallback handling.
type PhaseProviderFailure struct {
	Phase string
	Error error
}

// PhaseProviderFallback is the hook's decision.
type PhaseProviderFallback struct {
	Switched bool
	Note     string
}

// OnPhaseProviderFailure is invoked when an agent raises a provider-class failure.
type OnPhaseProviderFailure func(context.Context, PhaseProviderFailure) PhaseProviderFallback

// --- out-of-scope external collaborators (interfaces only) ---

// IndexClient is the out-of-scope index/search subsystem boundary.
type IndexClient interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
	Tree(ctx context.Context, opts TreeOptions) ([]string, error)
	OpenSnippet(ctx context.Context, path string) (SnippetInfo, error)
	Symbols(ctx context.Context, path string) (SymbolInfo, error)
	AST(ctx context.Context, path string) (ASTInfo, error)
	ImpactGraph(ctx context.Context, path string) (ImpactInfo, error)
	MemoryRecall(ctx context.Context, query string) ([]MemoryFact, error)
	GetProfile(ctx context.Context) (map[string]any, error)
	Stats(ctx context.Context) (IndexInfo, error)
	HealthCheck(ctx context.Context) error
}

// TreeOptions mirrors the index subsystem's tree() call shape.
type TreeOptions struct {
	IncludeHidden bool
	Path          string
	MaxDepth      int
	ExtraExcludes []string
}

// LLMClient is the raw LLM provider boundary behind each phase agent.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// VCSClient is the out-of-scope patch-application/branching boundary.
type VCSClient interface {
	Apply(ctx context.Context, patches []Patch) (touched []string, err error)
	Rollback(ctx context.Context) error
}

// JobStore is the out-of-scope task/job database boundary.
type JobStore interface {
	SaveRunResult(ctx context.Context, jobID string, result any) error
}

// ShellRunner is the out-of-scope shell/test-runner boundary.
type ShellRunner interface {
	Run(ctx context.Context, cmd string, args []string) (stdout string, err error)
}
