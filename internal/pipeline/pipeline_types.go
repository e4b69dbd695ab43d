// Package pipeline implements the Smart Pipeline state machine:
// Librarian -> Research? -> Architect -> Builder -> Critic, with quality gates,
// deterministic apply-failure repair, provider-fallback handling, and phase
// telemetry. Structured as an injected-collaborator orchestrator: a struct of
// swappable dependencies driven by a phase-transition/event loop, with its own
// classify/backoff/repair logic for failures.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"patchforge/internal/config"
	"patchforge/internal/types"
)

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	StatusPass  RunStatus = "PASS"
	StatusFail  RunStatus = "FAIL"
	StatusError RunStatus = "ERROR"
)

// RunResult is the output of one SmartPipeline.Run call.
type RunResult struct {
	RunID        string
	Status       RunStatus
	Plan         *types.Plan
	CriticResult *types.CriticResult
	Attempts     int
	Context      *types.ContextBundle
	Research     *types.ResearchOutput
	Err          error
}

// Event is one phase_* telemetry record.
type Event struct {
	Type      string         `json:"type"`
	Phase     string         `json:"phase"`
	LaneID    string         `json:"lane_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dependencies bundles every collaborator the pipeline drives: one struct
// carrying every injected component plus the tunables.
type Dependencies struct {
	ContextAssembler types.ContextAssembler
	Architect        types.ArchitectPlanner
	Builder          types.BuilderRunner
	Critic           types.CriticEvaluator
	LaneManager      types.LaneManager
	Logger           types.Logger
	MemoryWriteback  types.MemoryWriteback

	OnEvent                func(Event)
	OnPhaseProviderFailure types.OnPhaseProviderFailure
	FastPath               func(request string) bool
}

// SmartPipeline drives request(s) through Librarian -> Research? -> Architect ->
// Builder -> Critic. The only state shared across concurrent Run calls is the
// injected LaneManager/Logger in Dependencies and the immutable scope/cfg below;
// every run's mutable bookkeeping lives in its own runState, threaded explicitly
// through the phase methods rather than stashed on the receiver.
type SmartPipeline struct {
	deps Dependencies
	cfg  config.PipelineConfig

	scope types.LaneScope
}

// New builds a SmartPipeline bound to a job/task scope.
func New(deps Dependencies, cfg config.PipelineConfig, scope types.LaneScope) *SmartPipeline {
	return &SmartPipeline{deps: deps, cfg: cfg, scope: scope}
}

// runState carries mutable per-run bookkeeping threaded through the phase
// functions in pipeline_architect.go / pipeline_builder.go / pipeline_critic.go.
type runState struct {
	runID              string
	bundle             *types.ContextBundle
	research           *types.ResearchOutput
	attempts           int
	contextRefreshes   int
	architectPasses    int
	deterministicRepairs map[types.DeterministicKind]int
	providerFallbackUsed map[string]bool
	reviewRetried      bool
	backendHintRetried bool
	ephemeralLaneIDs   []string
}

func newRunState() *runState {
	return &runState{
		deterministicRepairs: map[types.DeterministicKind]int{},
		providerFallbackUsed: map[string]bool{},
	}
}

func newRunID() string { return uuid.NewString() }
