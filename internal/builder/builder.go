// Package builder implements the Builder phase adapter: drives
// an injected LLMClient to turn a Plan into patches, applies them through a
// VCSClient, and classifies apply failures deterministically. Uses system/user
// prompt construction and parses the response as a JSON patch array.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"patchforge/internal/errs"
	"patchforge/internal/types"
)

var (
	codeBlockRe    = regexp.MustCompile("(?s)```(?:\\w+)?\\n(.*?)```")
	contextReqRe   = regexp.MustCompile(`(?s)NEEDS_CONTEXT:\s*(\{.*\})`)
	jsonArrayRe    = regexp.MustCompile(`(?s)\[.*\]`)
)

// Adapter implements types.BuilderRunner against an injected LLMClient + VCSClient.
type Adapter struct {
	llm types.LLMClient
	vcs types.VCSClient
}

// New builds a builder Adapter.
func New(llm types.LLMClient, vcs types.VCSClient) *Adapter {
	return &Adapter{llm: llm, vcs: vcs}
}

// Run implements types.BuilderRunner.Run.
func (a *Adapter) Run(ctx context.Context, plan *types.Plan, bundle *types.ContextBundle, laneID string) (*types.BuilderRunResult, error) {
	system := buildSystemPrompt()
	user := buildUserPrompt(plan, bundle)

	raw, err := a.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("builder: llm call failed: %w", err)
	}

	if cr := parseContextRequest(raw); cr != nil {
		return types.NewContextRequestResult(*cr, 1), nil
	}

	patches, err := parsePatches(raw)
	if err != nil {
		return nil, wrapApplyFailure(types.SourceBuilderPatchProcessing, err, nil, raw)
	}
	if len(patches) == 0 {
		return types.NewFinalMessageResult(types.Message{Role: "builder", Content: strings.TrimSpace(raw)}, 1), nil
	}

	if err := validateTargets(patches, plan.TargetFiles); err != nil {
		return nil, wrapApplyFailure(types.SourceBuilderPatchProcessing, err, patches, raw)
	}

	touched, err := a.vcs.Apply(ctx, patches)
	if err != nil {
		return nil, wrapApplyFailure(types.SourceInterpreterPrimary, err, patches, raw)
	}

	return types.NewApplyResult(patches, touched, 1), nil
}

func buildSystemPrompt() string {
	return `You are the builder phase of a code-change pipeline. Given an implementation plan, emit patches.
Respond with a JSON array of patches: [{"action":"create|replace|delete","file":"...","search_block":"...","replace_block":"..."}]
If you need more context before you can proceed, respond with NEEDS_CONTEXT: {"queries":[...],"files":[...]}`
}

func buildUserPrompt(plan *types.Plan, bundle *types.ContextBundle) string {
	var sb strings.Builder
	sb.WriteString("Plan steps:\n")
	for _, s := range plan.Steps {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("\nTarget files:\n")
	for _, t := range plan.TargetFiles {
		sb.WriteString("- " + t + "\n")
	}
	if bundle != nil {
		for _, f := range bundle.Files {
			sb.WriteString(fmt.Sprintf("\nFile %s:\n```\n%s\n```\n", f.Path, f.Content))
		}
	}
	return sb.String()
}

func parseContextRequest(raw string) *types.ContextRequest {
	m := contextReqRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	var cr types.ContextRequest
	if err := json.Unmarshal([]byte(m[1]), &cr); err != nil {
		return nil
	}
	return &cr
}

// parsePatches parses the first JSON array in the response. When none parses it
// returns a patch-parsing error whose message says whether a fenced code block
// was present; code blocks are not turned into patches.
func parsePatches(raw string) ([]types.Patch, error) {
	if m := jsonArrayRe.FindString(raw); m != "" {
		var patches []types.Patch
		if err := json.Unmarshal([]byte(m), &patches); err == nil {
			return patches, nil
		}
	}

	matches := codeBlockRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("patch parsing failed: not valid json and no code block found")
	}
	return nil, fmt.Errorf("patch parsing failed: not valid json, unexpected token in fenced block")
}

func validateTargets(patches []types.Patch, targets []string) error {
	allowed := make(map[string]bool, len(targets))
	for _, t := range targets {
		allowed[t] = true
	}
	var disallowed []string
	for _, p := range patches {
		if !allowed[p.File] {
			disallowed = append(disallowed, p.File)
		}
	}
	if len(disallowed) > 0 {
		return fmt.Errorf("disallowed file(s) not in plan targets: %s", strings.Join(disallowed, ", "))
	}
	return nil
}

func wrapApplyFailure(source types.ApplyFailureSource, cause error, patches []types.Patch, raw string) error {
	failure := &types.PatchApplyFailure{
		Source:    source,
		Message:   cause.Error(),
		Patches:   patches,
		RawOutput: raw,
	}
	kind, _ := errs.ClassifyPatchApplyError(failure.Message)
	e := errs.New(errs.KindPatchApplyError, failure)
	e.DeterministicKind = kind
	return e
}
