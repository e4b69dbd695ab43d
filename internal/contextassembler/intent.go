package contextassembler

import (
	"regexp"
	"strings"
)

// Intent is a coarse classification of what kind of change a request describes,
// driving query expansion and candidate injection.
type Intent string

const (
	IntentUI            Intent = "ui"
	IntentBackend        Intent = "backend"
	IntentTesting        Intent = "testing"
	IntentInfra          Intent = "infra"
	IntentSecurity       Intent = "security"
	IntentObservability  Intent = "observability"
	IntentGeneric        Intent = "generic"
)

// intentKeywords is a regex-driven keyword heuristic, narrowed from generic
// primary/secondary/tertiary keyword tiers to a fixed intent taxonomy.
var intentKeywords = map[Intent][]string{
	IntentUI:           {"button", "component", "css", "style", "page", "screen", "frontend", "react", "html", "ui", "layout"},
	IntentBackend:      {"endpoint", "handler", "service", "controller", "api", "route", "server", "database", "query"},
	IntentTesting:      {"test", "spec", "coverage", "assertion", "mock", "fixture"},
	IntentInfra:        {"deploy", "docker", "kubernetes", "helm", "terraform", "pipeline", "ci", "cd"},
	IntentSecurity:     {"auth", "token", "permission", "vulnerability", "secret", "encrypt", "csrf", "xss"},
	IntentObservability: {"log", "metric", "trace", "telemetry", "monitor", "alert"},
}

// intentRoots names the workspace roots candidate-injection scans for each intent,
// used to emit the librarian_<intent>_candidates warnings.
var intentRoots = map[Intent][]string{
	IntentTesting:       {"test", "tests", "spec"},
	IntentInfra:         {"deploy", "infra", ".github/workflows"},
	IntentSecurity:      {"auth", "security"},
	IntentObservability: {"observability", "telemetry", "monitoring"},
	IntentBackend:       {"server", "api", "internal"},
}

// ClassifyIntents returns every intent whose keyword set the request text matches,
// in a deterministic order.
func ClassifyIntents(request string) []Intent {
	lc := strings.ToLower(request)
	var matched []Intent
	for _, intent := range []Intent{IntentUI, IntentBackend, IntentTesting, IntentInfra, IntentSecurity, IntentObservability} {
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(lc, kw) {
				matched = append(matched, intent)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []Intent{IntentGeneric}
	}
	return matched
}

var (
	filePathPattern  = regexp.MustCompile(`\b[\w./-]+\.[a-zA-Z]{1,6}\b`)
	functionPattern  = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
	camelSymbolPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*[a-z][A-Z][a-zA-Z0-9]*\b`)
)

// ExtractQuerySignals derives file paths, function-call sites, and CamelCase symbol
// mentions from request text via regex; these become the keywords/keyword_phrases
// attached to a ContextBundle and used to expand search queries.
func ExtractQuerySignals(request string) (keywords []string, phrases []string) {
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		keywords = append(keywords, s)
	}

	for _, m := range filePathPattern.FindAllString(request, -1) {
		add(m)
	}
	for _, m := range functionPattern.FindAllStringSubmatch(request, -1) {
		add(m[1])
	}
	for _, m := range camelSymbolPattern.FindAllString(request, -1) {
		add(m)
	}

	words := strings.Fields(request)
	for i := 0; i+1 < len(words); i++ {
		phrase := words[i] + " " + words[i+1]
		phrase = strings.Trim(phrase, ".,!?;:")
		if len(phrase) > 4 {
			phrases = append(phrases, strings.ToLower(phrase))
		}
	}

	return keywords, phrases
}

// expandQueries builds the ordered, maxQueries-bounded query list for a request,
// seeding from the request text, the extracted keywords/phrases, and any caller
// additionalQueries.
func expandQueries(request string, additional []string, keywords []string, maxQueries int) []string {
	seen := map[string]bool{}
	var out []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			return
		}
		seen[q] = true
		out = append(out, q)
	}

	add(request)
	for _, q := range additional {
		add(q)
	}
	for _, kw := range keywords {
		add(kw)
	}

	if maxQueries > 0 && len(out) > maxQueries {
		out = out[:maxQueries]
	}
	return out
}

// isPlaceholderPath reports whether p is a known placeholder path like
// "path/to/file.ts".
func isPlaceholderPath(p string) bool {
	lc := strings.ToLower(strings.TrimSpace(p))
	return lc == "" ||
		strings.HasPrefix(lc, "path/to/") ||
		strings.Contains(lc, "<file") ||
		strings.Contains(lc, "example.") ||
		lc == "file.ts" || lc == "file.js"
}

// isStructurallyApplicable reports whether symbols/AST analysis applies to path:
// it is skipped for non-applicable files (HTML/CSS/docs/tests).
func isStructurallyApplicable(path string) bool {
	lc := strings.ToLower(path)
	for _, ext := range []string{".html", ".css", ".md", ".txt", ".json", ".yaml", ".yml"} {
		if strings.HasSuffix(lc, ext) {
			return false
		}
	}
	if strings.Contains(lc, "_test.") || strings.Contains(lc, ".test.") || strings.Contains(lc, "/tests/") {
		return false
	}
	return true
}

// supportsImpactAnalysis reports whether path is eligible for impact-graph lookup.
func supportsImpactAnalysis(path string) bool {
	lc := strings.ToLower(path)
	return !strings.HasSuffix(lc, ".html") && !strings.HasSuffix(lc, ".md")
}
