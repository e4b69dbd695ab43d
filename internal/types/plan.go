package types

// PlanSource tags where a Plan artifact came from, including the three recovery
// strategies that are named in the wire format but must never be produced (they are
// intentionally disabled — see DESIGN.md "Open Questions resolved").
type PlanSource string

const (
	PlanSourceAgent                     PlanSource = "agent"
	PlanSourceFastPath                  PlanSource = "fast_path"
	PlanSourceRevisionRetry             PlanSource = "revision_retry"
	PlanSourceQualityGateDegrade        PlanSource = "quality_gate_degrade"
	PlanSourceStructuralGroundingRecovery PlanSource = "structural_grounding_recovery" // disabled, never emitted
	PlanSourceTargetDriftRecovery        PlanSource = "target_drift_recovery"          // disabled, never emitted
	PlanSourceNonDSLRecovery             PlanSource = "non_dsl_recovery"               // disabled, never emitted
)

// ResponseFormat tags the raw shape the architect's response was parsed from.
type ResponseFormat string

const (
	ResponseFormatDSL   ResponseFormat = "dsl"
	ResponseFormatJSON  ResponseFormat = "json"
	ResponseFormatProse ResponseFormat = "prose"
)

// Plan is the architect's implementation plan for a request.
type Plan struct {
	Steps           []string       `json:"steps"`
	TargetFiles     []string       `json:"target_files"`
	RiskAssessment  string         `json:"risk_assessment"`
	Verification    []string       `json:"verification"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// StructuralGrounding records metrics logged on every architect artifact, even
// though they never trigger a recovery re-plan.
type StructuralGrounding struct {
	Applicable     bool     `json:"applicable"`
	NotApplicable  []string `json:"not_applicable,omitempty"`
	Score          float64  `json:"score"`
}

// ArchitectArtifact is the per-pass output record written to the artifact log.
type ArchitectArtifact struct {
	Pass               int                 `json:"pass"`
	Source             PlanSource          `json:"source"`
	RawOutput          string              `json:"raw_output"`
	NormalizedOutput   *Plan               `json:"normalized_output"`
	ResponseFormatType ResponseFormat      `json:"response_format_type"`
	StructuralGrounding StructuralGrounding `json:"structural_grounding"`
	TargetDrift        *TargetDrift        `json:"target_drift,omitempty"`
}

// TargetDrift records pass-to-pass target-file changes for diagnostics only; per
// drift explained by a context change never triggers recovery.
type TargetDrift struct {
	Added          []string `json:"added,omitempty"`
	Removed        []string `json:"removed,omitempty"`
	ExplainedByContextChange bool `json:"explained_by_context_change"`
}

// PlanWithRequestOptions carries the opts argument to ArchitectPlanner.PlanWithRequest.
type PlanWithRequestOptions struct {
	InstructionHint string
	ResponseFormat  ResponseFormat
	PlanHint        *Plan
	ValidateOnly    bool
}

// PlanResult is the outcome of a single architect call: either a usable Plan or an
// AGENT_REQUEST for more context.
type PlanResult struct {
	Plan     *Plan
	Request  *AgentRequest
	RawOutput string
	ResponseFormatType ResponseFormat
	Warnings []string
}

// ReviewStatus is the architect's review verdict on builder output.
type ReviewStatus string

const (
	ReviewPass  ReviewStatus = "PASS"
	ReviewRetry ReviewStatus = "RETRY"
)

// ReviewResult is returned by ArchitectReviewer.ReviewBuilderOutput.
type ReviewResult struct {
	Status   ReviewStatus `json:"status"`
	Reasons  []string     `json:"reasons,omitempty"`
	Feedback []string     `json:"feedback,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}
