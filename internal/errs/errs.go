// Package errs provides the tagged error model used at every adapter boundary in
// patchforge: errors carry a Kind plus optional DeterministicKind /
// ProviderClass / Retryable tags so the pipeline dispatches on tags, not string
// matching. The string-regex classifiers in this package are kept as the documented
// fallback for errors coming from adapters that do not participate in the tagging
// scheme.
package errs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind names the orchestrator-level error categories
type Kind string

const (
	KindDeepInvestigationQuotaUnmet    Kind = "DeepInvestigationQuotaUnmet"
	KindDeepInvestigationEvidenceUnmet Kind = "DeepInvestigationEvidenceUnmet"
	KindDeepInvestigationBudgetUnmet   Kind = "DeepInvestigationBudgetUnmet"
	KindArchitectQualityGateFailed     Kind = "ArchitectQualityGateFailed"
	KindPatchApplyError                Kind = "PatchApplyError"
	KindPlanHintValidationError        Kind = "PlanHintValidationError"
	KindProviderFailure                Kind = "ProviderFailure"
	KindCancelled                      Kind = "Cancelled"
	KindGenericAgentFailure            Kind = "GenericAgentFailure"
)

// QualityGateReason enumerates the reasons ArchitectQualityGateFailed may carry.
type QualityGateReason string

const (
	ReasonBlockingArchitectWarnings     QualityGateReason = "blocking_architect_warnings"
	ReasonUnresolvedArchitectRequest    QualityGateReason = "unresolved_architect_request"
	ReasonInvalidTargetPaths            QualityGateReason = "invalid_target_paths"
	ReasonMissingConcreteTargets        QualityGateReason = "missing_concrete_targets"
	ReasonLowRequestTargetAlignment     QualityGateReason = "low_request_target_alignment_critical"
)

// Error is the tagged error type threaded through the pipeline.
type Error struct {
	Kind              Kind
	DeterministicKind string
	ProviderClass     string
	Retryable         bool
	Code              string
	Remediation       []string
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged Error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithCode attaches a code and remediation list "every error includes
// a code when applicable and a short actionable remediation list".
func (e *Error) WithCode(code string, remediation ...string) *Error {
	e.Code = code
	e.Remediation = remediation
	return e
}

// QualityGateError builds the pre-builder quality-gate failure with the exact
// message prefix: "Architect quality gate failed before builder: <reason>".
func QualityGateError(reason QualityGateReason) *Error {
	return &Error{
		Kind: KindArchitectQualityGateFailed,
		Err:  fmt.Errorf("Architect quality gate failed before builder: %s", reason),
	}
}

// Cancelled wraps a context cancellation as a non-retryable, non-provider error.
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Retryable: false, Err: err}
}

// IsCancelled reports whether err is (or wraps) a Cancelled error.
func IsCancelled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindCancelled
	}
	return false
}

// providerHints is a transient-error heuristic reused here as the provider-class
// fallback classifier for untagged adapter errors.
var providerHints = []string{
	"auth_error",
	"401",
	"403",
	"429",
	"rate limit",
	"usage_limit_reached",
	"too many requests",
	"quota exceeded",
}

// ClassifyProviderError reports whether err's text matches a provider-failure
// pattern.
// Used only as a fallback when an adapter does not already tag its error with
// ProviderClass.
func ClassifyProviderError(err error) (providerClass string, ok bool) {
	if err == nil {
		return "", false
	}
	msg := strings.ToLower(err.Error())
	for _, h := range providerHints {
		if strings.Contains(msg, h) {
			return h, true
		}
	}
	return "", false
}

var (
	enoentPattern      = regexp.MustCompile(`(?i)ENOENT`)
	searchBlockPattern = regexp.MustCompile(`(?i)search block not found`)
	parseErrorPattern  = regexp.MustCompile(`(?i)(patch parsing failed|not valid json|invalid dsl|unexpected token)`)
	disallowedPattern  = regexp.MustCompile(`(?i)(disallowed file|not in plan targets|not an allowed target)`)
)

// ClassifyPatchApplyError computes the deterministic failure kind from a patch-apply
// error's text. When a message mixes parse and disallowed
// signals, disallowed_files takes precedence per spec.
func ClassifyPatchApplyError(msg string) (kind string, ok bool) {
	switch {
	case disallowedPattern.MatchString(msg) && parseErrorPattern.MatchString(msg):
		return "disallowed_files", true
	case disallowedPattern.MatchString(msg):
		return "disallowed_files", true
	case enoentPattern.MatchString(msg):
		return "enoent", true
	case searchBlockPattern.MatchString(msg):
		return "search_block_missing", true
	case parseErrorPattern.MatchString(msg):
		return "patch_parse", true
	default:
		return "", false
	}
}
