package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"patchforge/internal/types"
)

// echoLLMClient is a deterministic stand-in for a real provider binding.
// It always proposes a single no-op replace against the first target file named in
// the prompt, which is enough to exercise the pipeline's DSL plan and patch
// plumbing end to end without a network call.
type echoLLMClient struct{}

func (echoLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.Contains(systemPrompt, "implementation plan") || strings.Contains(systemPrompt, "architect") {
		return "PLAN:\n- step: Review the target files and make the requested change.\n- target: " + firstTargetLine(userPrompt) + "\n- verify: Run unit tests for the affected package.\nrisk: low\nEND_PLAN", nil
	}
	if strings.Contains(systemPrompt, "builder phase") {
		target := firstTargetLine(userPrompt)
		return fmt.Sprintf(`[{"action":"replace","file":%q,"search_block":"","replace_block":""}]`, target), nil
	}
	return "PASS", nil
}

func firstTargetLine(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") && strings.Contains(line, "/") {
			return strings.TrimPrefix(line, "- ")
		}
	}
	return "README.md"
}

// localFileVCS applies patches directly against the local filesystem rooted at
// root, standing in for the out-of-scope VCS/branching subsystem.
type localFileVCS struct {
	root    string
	touched []string
}

func newLocalFileVCS(root string) *localFileVCS { return &localFileVCS{root: root} }

func (v *localFileVCS) Apply(ctx context.Context, patches []types.Patch) ([]string, error) {
	var touched []string
	for _, p := range patches {
		path := filepath.Join(v.root, p.File)
		switch p.Action {
		case types.PatchDelete:
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("ENOENT: delete %s: %w", p.File, err)
			}
		case types.PatchCreate, types.PatchReplace:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("mkdir for %s: %w", p.File, err)
			}
			existing, _ := os.ReadFile(path)
			content := string(existing)
			if p.SearchBlock != "" {
				if !strings.Contains(content, p.SearchBlock) {
					return nil, fmt.Errorf("search block not found in %s", p.File)
				}
				content = strings.Replace(content, p.SearchBlock, p.ReplaceBlock, 1)
			} else {
				content = p.ReplaceBlock
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", p.File, err)
			}
		}
		touched = append(touched, p.File)
	}
	v.touched = touched
	return touched, nil
}

func (v *localFileVCS) Rollback(ctx context.Context) error {
	return nil
}
