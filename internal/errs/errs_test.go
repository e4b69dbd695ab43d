package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	e := New(KindProviderFailure, inner)
	require.ErrorIs(t, e, inner)
	require.Contains(t, e.Error(), "ProviderFailure")
}

func TestQualityGateErrorMessagePrefix(t *testing.T) {
	e := QualityGateError(ReasonMissingConcreteTargets)
	require.Equal(t, KindArchitectQualityGateFailed, e.Kind)
	require.Contains(t, e.Error(), "Architect quality gate failed before builder: missing_concrete_targets")
}

func TestIsCancelled(t *testing.T) {
	require.True(t, IsCancelled(Cancelled(errors.New("ctx done"))))
	require.False(t, IsCancelled(New(KindProviderFailure, errors.New("nope"))))
	require.False(t, IsCancelled(errors.New("plain error")))
}

func TestClassifyProviderError(t *testing.T) {
	class, ok := ClassifyProviderError(fmt.Errorf("request failed: 429 too many requests"))
	require.True(t, ok)
	require.Equal(t, "429", class)

	_, ok = ClassifyProviderError(errors.New("disk full"))
	require.False(t, ok)

	_, ok = ClassifyProviderError(nil)
	require.False(t, ok)
}

func TestClassifyPatchApplyErrorPrecedence(t *testing.T) {
	kind, ok := ClassifyPatchApplyError("not valid json AND file not in plan targets")
	require.True(t, ok)
	require.Equal(t, "disallowed_files", kind, "disallowed_files must win when both patterns match")

	kind, ok = ClassifyPatchApplyError("ENOENT: no such file")
	require.True(t, ok)
	require.Equal(t, "enoent", kind)

	kind, ok = ClassifyPatchApplyError("search block not found in widget.go")
	require.True(t, ok)
	require.Equal(t, "search_block_missing", kind)

	_, ok = ClassifyPatchApplyError("totally unrelated message")
	require.False(t, ok)
}

func TestWithCodeAttachesRemediation(t *testing.T) {
	e := New(KindPatchApplyError, errors.New("apply failed")).WithCode("E_APPLY", "retry with a narrower diff")
	require.Equal(t, "E_APPLY", e.Code)
	require.Equal(t, []string{"retry with a narrower diff"}, e.Remediation)
}
