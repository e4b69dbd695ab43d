package types

// PatchAction is the kind of mutation a single patch applies.
type PatchAction string

const (
	PatchCreate  PatchAction = "create"
	PatchReplace PatchAction = "replace"
	PatchDelete  PatchAction = "delete"
)

// Patch is one file-level mutation in a builder's apply payload.
type Patch struct {
	Action       PatchAction `json:"action"`
	File         string      `json:"file"`
	SearchBlock  string      `json:"search_block,omitempty"`
	ReplaceBlock string      `json:"replace_block,omitempty"`
}

// Message is a role/content pair, used for the builder's finalize path.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextRequest is what a builder returns to ask for more context before it can
// proceed.
type ContextRequest struct {
	Queries []string `json:"queries"`
	Files   []string `json:"files"`
}

// ApplyFailureSource tags which stage of patch application failed.
type ApplyFailureSource string

const (
	SourceInterpreterPrimary      ApplyFailureSource = "interpreter_primary"
	SourceInterpreterRetry        ApplyFailureSource = "interpreter_retry"
	SourceBuilderPatchProcessing  ApplyFailureSource = "builder_patch_processing"
)

// RollbackInfo records whether a rollback was attempted and whether it succeeded.
type RollbackInfo struct {
	Attempted bool `json:"attempted"`
	OK        bool `json:"ok"`
}

// PatchApplyFailure is the structured failure record surfaced when VCS apply fails.
// It satisfies the error interface and is carried on errs.Error as the underlying
// cause (see internal/errs).
type PatchApplyFailure struct {
	Source    ApplyFailureSource `json:"source"`
	Message   string             `json:"error"`
	Patches   []Patch            `json:"patches,omitempty"`
	Rollback  RollbackInfo       `json:"rollback"`
	RawOutput string             `json:"rawOutput,omitempty"`
}

func (f *PatchApplyFailure) Error() string { return f.Message }

// DeterministicKind is the deterministic classification of a PatchApplyFailure,
// computed by the builder adapter from the failure text.
type DeterministicKind string

const (
	DeterministicENOENT             DeterministicKind = "enoent"
	DeterministicSearchBlockMissing DeterministicKind = "search_block_missing"
	DeterministicPatchParse         DeterministicKind = "patch_parse"
	DeterministicDisallowedFiles    DeterministicKind = "disallowed_files"
)

// BuilderRunResult is the outcome of one builder call. Exactly one of FinalMessage,
// ContextRequest, or (Patches, possibly with ApplyFailure) is populated; use
// NewFinalMessageResult / NewContextRequestResult / NewApplyResult to construct one
// validly rather than building the struct by hand.
type BuilderRunResult struct {
	FinalMessage       *Message        `json:"finalMessage,omitempty"`
	ToolCallsExecuted  int             `json:"toolCallsExecuted"`
	ContextRequest     *ContextRequest `json:"contextRequest,omitempty"`
	Patches            []Patch         `json:"patches,omitempty"`
	ApplyFailure       *PatchApplyFailure `json:"-"`
	TouchedFiles       []string        `json:"touchedFiles,omitempty"`
}

// NewFinalMessageResult builds a finalize-path BuilderRunResult.
func NewFinalMessageResult(msg Message, toolCalls int) *BuilderRunResult {
	return &BuilderRunResult{FinalMessage: &msg, ToolCallsExecuted: toolCalls}
}

// NewContextRequestResult builds a needs_context BuilderRunResult.
func NewContextRequestResult(req ContextRequest, toolCalls int) *BuilderRunResult {
	return &BuilderRunResult{ContextRequest: &req, ToolCallsExecuted: toolCalls}
}

// NewApplyResult builds a successful apply-path BuilderRunResult.
func NewApplyResult(patches []Patch, touched []string, toolCalls int) *BuilderRunResult {
	return &BuilderRunResult{Patches: patches, TouchedFiles: touched, ToolCallsExecuted: toolCalls}
}
