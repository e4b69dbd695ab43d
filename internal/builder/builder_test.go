package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"patchforge/internal/errs"
	"patchforge/internal/types"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

type fakeVCS struct {
	touched []string
	err     error
}

func (f *fakeVCS) Apply(ctx context.Context, patches []types.Patch) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.touched, nil
}
func (f *fakeVCS) Rollback(ctx context.Context) error { return nil }

func samplePlan() *types.Plan {
	return &types.Plan{Steps: []string{"add login handler"}, TargetFiles: []string{"src/auth.go"}}
}

func TestRunAppliesValidPatches(t *testing.T) {
	llm := &fakeLLM{response: `[{"action":"replace","file":"src/auth.go","search_block":"old","replace_block":"new"}]`}
	vcs := &fakeVCS{touched: []string{"src/auth.go"}}
	a := New(llm, vcs)

	res, err := a.Run(context.Background(), samplePlan(), &types.ContextBundle{}, "job:task:builder")
	require.NoError(t, err)
	require.Equal(t, []string{"src/auth.go"}, res.TouchedFiles)
	require.Len(t, res.Patches, 1)
}

func TestRunReturnsContextRequest(t *testing.T) {
	llm := &fakeLLM{response: `NEEDS_CONTEXT: {"queries":["auth flow"],"files":["src/session.go"]}`}
	a := New(llm, &fakeVCS{})

	res, err := a.Run(context.Background(), samplePlan(), &types.ContextBundle{}, "job:task:builder")
	require.NoError(t, err)
	require.NotNil(t, res.ContextRequest)
	require.Equal(t, []string{"auth flow"}, res.ContextRequest.Queries)
}

func TestRunRejectsDisallowedTargets(t *testing.T) {
	llm := &fakeLLM{response: `[{"action":"replace","file":"src/other.go","search_block":"x","replace_block":"y"}]`}
	a := New(llm, &fakeVCS{})

	_, err := a.Run(context.Background(), samplePlan(), &types.ContextBundle{}, "job:task:builder")
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "disallowed_files", e.DeterministicKind)
}

func TestRunClassifiesPatchParseFailure(t *testing.T) {
	llm := &fakeLLM{response: "not a patch at all, just prose"}
	a := New(llm, &fakeVCS{})

	_, err := a.Run(context.Background(), samplePlan(), &types.ContextBundle{}, "job:task:builder")
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindPatchApplyError, e.Kind)
}

func TestRunClassifiesVCSApplyEnoent(t *testing.T) {
	llm := &fakeLLM{response: `[{"action":"replace","file":"src/auth.go","search_block":"old","replace_block":"new"}]`}
	vcs := &fakeVCS{err: errors.New("ENOENT: src/auth.go does not exist")}
	a := New(llm, vcs)

	_, err := a.Run(context.Background(), samplePlan(), &types.ContextBundle{}, "job:task:builder")
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "enoent", e.DeterministicKind)
}
