package pipeline

import (
	"regexp"
	"strings"

	"patchforge/internal/contextassembler"
	"patchforge/internal/types"
)

var concreteVerificationRe = regexp.MustCompile(`(?i)unit tests|unit/integration tests|manual browser check|manual api check`)

// containsWarning reports whether warnings includes name.
func containsWarning(warnings []string, name string) bool {
	for _, w := range warnings {
		if w == name {
			return true
		}
	}
	return false
}

// hasBlockingWarnings reports whether any warning names a blocking architect
// condition.
func hasBlockingWarnings(warnings []string) bool {
	for _, w := range warnings {
		if strings.HasPrefix(w, "architect_") && strings.HasSuffix(w, "_blocking") {
			return true
		}
	}
	return false
}

var placeholderTargetRe = regexp.MustCompile(`(?i)path/to/|<file|example\.|file\.(ts|js|go)$`)

func isPlaceholderTarget(path string) bool {
	return placeholderTargetRe.MatchString(path)
}

// invalidTargets returns the subset of plan.TargetFiles that are neither in
// bundle.Files nor in bundle.RepoMap (when available), or are known placeholders.
func invalidTargets(plan *types.Plan, bundle *types.ContextBundle) []string {
	if plan == nil {
		return nil
	}
	known := map[string]bool{}
	if bundle != nil {
		for _, f := range bundle.Files {
			known[f.Path] = true
		}
		for _, p := range bundle.RepoMap {
			known[p] = true
		}
	}
	haveRepoMap := bundle != nil && len(bundle.RepoMap) > 0

	var invalid []string
	for _, t := range plan.TargetFiles {
		if isPlaceholderTarget(t) {
			invalid = append(invalid, t)
			continue
		}
		if known[t] {
			continue
		}
		if !haveRepoMap {
			// without a repo map we can only validate against loaded context files
			if _, ok := known[t]; !ok && bundle != nil && len(bundle.Files) > 0 {
				invalid = append(invalid, t)
			}
			continue
		}
		invalid = append(invalid, t)
	}
	return invalid
}

// alignmentCritical is a lightweight lexical-overlap alignment guard: critical
// designation is triggered when the plan touches zero of the request's
// significant keywords anywhere in its target paths or steps, and the plan
// self-reports a critical risk assessment, i.e. its risk text contains
// "critical" (the orchestrator-side signal for
// "this would be expensive to get wrong").
func alignmentCritical(request string, plan *types.Plan) bool {
	if plan == nil || !strings.Contains(strings.ToLower(plan.RiskAssessment), "critical") {
		return false
	}
	keywords := significantWords(request)
	haystack := strings.ToLower(strings.Join(append(append([]string{}, plan.TargetFiles...), plan.Steps...), " "))
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return false
		}
	}
	return len(keywords) > 0
}

func significantWords(s string) []string {
	words := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) >= 4 {
			out = append(out, w)
		}
	}
	return out
}

// synthesizeVerificationIfNeeded fills in concrete verification steps when the
// architect's plan.verification is empty or fails the concrete-verification
// pattern.
func synthesizeVerificationIfNeeded(plan *types.Plan) {
	if plan == nil {
		return
	}
	if len(plan.Verification) > 0 && allConcrete(plan.Verification) {
		return
	}
	var synthesized []string
	for _, t := range plan.TargetFiles {
		switch {
		case strings.Contains(t, "public/") || strings.HasSuffix(t, ".html"):
			synthesized = append(synthesized, "Manual browser check: open http://localhost:3000 and verify the change for "+t)
		default:
			synthesized = append(synthesized, "Run unit/integration tests for "+t)
		}
	}
	if len(synthesized) == 0 {
		synthesized = []string{"Run unit tests for the affected package."}
	}
	plan.Verification = synthesized
}

func allConcrete(verification []string) bool {
	for _, v := range verification {
		if !concreteVerificationRe.MatchString(v) {
			return false
		}
	}
	return true
}

// computeStructuralGrounding records structural-grounding metrics on the
// architect artifact without ever triggering a recovery re-plan.
func computeStructuralGrounding(plan *types.Plan, bundle *types.ContextBundle) types.StructuralGrounding {
	if plan == nil {
		return types.StructuralGrounding{}
	}
	var notApplicable []string
	applicableCount := 0
	for _, t := range plan.TargetFiles {
		if isUIOnlyTarget(t) {
			notApplicable = append(notApplicable, t)
			continue
		}
		applicableCount++
	}
	score := 1.0
	if len(plan.TargetFiles) > 0 {
		score = float64(applicableCount) / float64(len(plan.TargetFiles))
	}
	return types.StructuralGrounding{
		Applicable:    applicableCount > 0,
		NotApplicable: notApplicable,
		Score:         score,
	}
}

func isUIOnlyTarget(path string) bool {
	ext := strings.ToLower(path)
	return strings.HasSuffix(ext, ".html") || strings.HasSuffix(ext, ".css")
}

var frontendOnlyExtensions = []string{".html", ".css", ".scss", ".js", ".jsx", ".ts", ".tsx", ".vue"}

func isFrontendOnlyPath(path string) bool {
	lc := strings.ToLower(path)
	for _, ext := range frontendOnlyExtensions {
		if strings.HasSuffix(lc, ext) {
			return true
		}
	}
	return false
}

// isFrontendOnlyTargets reports whether every one of plan's target files is a
// frontend-facing file.
func isFrontendOnlyTargets(targets []string) bool {
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !isFrontendOnlyPath(t) {
			return false
		}
	}
	return true
}

var backendPathHints = []string{".go", "server/", "/api/", "api/", "handler", "service", "controller", "endpoint"}

// backendPeripheryAvailable reports whether bundle's periphery (or repo map,
// when the periphery is empty) names a backend-looking file the plan could
// have targeted instead.
func backendPeripheryAvailable(bundle *types.ContextBundle) bool {
	if bundle == nil {
		return false
	}
	candidates := bundle.Selection.Periphery
	if len(candidates) == 0 {
		candidates = bundle.RepoMap
	}
	for _, p := range candidates {
		if isFrontendOnlyPath(p) {
			continue
		}
		lc := strings.ToLower(p)
		for _, hint := range backendPathHints {
			if strings.Contains(lc, hint) {
				return true
			}
		}
	}
	return false
}

// isEndpointIntentFrontendOnly implements the relevance guard: an
// endpoint/backend-intent request whose plan only touches frontend files, with
// a backend file available in the periphery it could have targeted instead.
func isEndpointIntentFrontendOnly(request string, plan *types.Plan, bundle *types.ContextBundle) bool {
	if plan == nil || !isFrontendOnlyTargets(plan.TargetFiles) {
		return false
	}
	if !backendPeripheryAvailable(bundle) {
		return false
	}
	for _, intent := range contextassembler.ClassifyIntents(request) {
		if intent == contextassembler.IntentBackend {
			return true
		}
	}
	return false
}

// semanticGuard implements the orchestrator-side post-review check: touched files plausibly satisfy the request via keyword coverage over
// the request and plan steps against the patch file set.
func semanticGuard(request string, plan *types.Plan, touched []string) bool {
	if len(touched) == 0 {
		return false
	}
	keywords := significantWords(request)
	if plan != nil {
		keywords = append(keywords, significantWords(strings.Join(plan.Steps, " "))...)
	}
	if len(keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(strings.Join(touched, " "))
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
