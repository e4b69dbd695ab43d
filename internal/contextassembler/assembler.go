// Package contextassembler implements the Context Assembler: it
// produces a Context Bundle from a request by running index queries, applying
// intent heuristics, pruning stale/conflicting memory, trimming to a byte/token
// budget, and computing a confidence-scored focus/periphery selection.
package contextassembler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"patchforge/internal/config"
	"patchforge/internal/logging"
	"patchforge/internal/types"
)

// Assembler implements types.ContextAssembler against an injected IndexClient.
type Assembler struct {
	index  types.IndexClient
	cfg    config.ContextConfig
	deep   bool

	lastRequestID string
}

// New builds an Assembler.
func New(index types.IndexClient, cfg config.ContextConfig) *Assembler {
	return &Assembler{index: index, cfg: cfg}
}

// Assemble implements types.ContextAssembler.Assemble.
func (a *Assembler) Assemble(ctx context.Context, request string, opts types.AssembleOptions) (*types.ContextBundle, error) {
	logger := logging.Get(logging.CategoryContext)
	var warnings []string

	maxQueries := clampOption(logger, "maxQueries", a.cfg.MaxQueries, 1, 32, &warnings)
	maxFiles := clampOption(logger, "maxFiles", a.cfg.MaxFiles, 1, 200, &warnings)

	if opts.DeepMode {
		if err := a.index.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("Deep investigation requires docdex health: %w", err)
		}
	}

	keywords, phrases := ExtractQuerySignals(request)
	intents := ClassifyIntents(request)

	queries := expandQueries(request, opts.AdditionalQueries, keywords, maxQueries)

	bundle := &types.ContextBundle{
		Request:      request,
		Queries:      queries,
		QuerySignals: types.QuerySignals{Keywords: keywords, KeywordPhrases: phrases},
		GeneratedAt:  timeNow(),
	}

	// stats
	stats, statsErr := a.index.Stats(ctx)
	if statsErr != nil {
		warnings = append(warnings, "docdex_stats_failed")
	} else {
		bundle.Index = stats
	}

	var searchResults []types.QueryResult
	var snippets []types.SnippetInfo

	if opts.SkipSearchWhenPreferred && len(opts.PreferredFiles) > 0 {
		warnings = append(warnings, "docdex_search_skipped")
	} else {
		searchResults, snippets = a.runSearch(ctx, queries, intents, &warnings)
	}

	hasSnippetEvidence := len(snippets) > 0
	if statsErr == nil && stats.NumDocs == 0 {
		warnings = append(warnings, "docdex_index_empty")
		if !hasSnippetEvidence {
			warnings = append(warnings, "docdex_index_stale")
		}
		if opts.DeepMode {
			return nil, fmt.Errorf("docdex_index_empty: index has no documents")
		}
	}

	bundle.SearchResults = searchResults
	bundle.Snippets = snippets

	candidateFiles := collectCandidatePaths(searchResults, opts.PreferredFiles, opts.ForceFocusFiles)
	candidateFiles = append(candidateFiles, a.injectIntentCandidates(ctx, intents, &warnings)...)
	if containsIntent(intents, IntentUI) && containsCodeWritingVerb(request) && isUIDominantHits(searchResults) {
		candidateFiles = append(candidateFiles, a.scriptCompanions(ctx, candidateFiles, &warnings)...)
	}
	candidateFiles = dedupeStrings(candidateFiles)

	recent := filterPlaceholders(opts.RecentFiles)

	files, structWarnings := a.loadFilesAndStructure(ctx, candidateFiles, opts, &warnings)
	warnings = append(warnings, structWarnings...)

	files, budgetWarnings := trimToBudget(files, maxFiles, a.cfg.MaxTotalBytes, a.cfg.MaxFocusBytes, a.cfg.MaxPeripheryBytes)
	warnings = append(warnings, budgetWarnings...)

	bundle.Files = files
	bundle.Selection = buildSelection(files)

	if opts.IncludeRepoMap {
		treeOpts := types.TreeOptions{IncludeHidden: true, Path: ".", MaxDepth: 64}
		if opts.DeepMode {
			treeOpts.MaxDepth = 128
			warnings = append(warnings, "context_deep_scan_preset")
		}
		tree, err := a.index.Tree(ctx, treeOpts)
		if err != nil {
			warnings = append(warnings, "docdex_tree_failed")
		} else {
			bundle.RepoMap = tree
			bundle.RepoMapRaw = strings.Join(tree, "\n")
		}
	}

	memFacts, memErr := a.index.MemoryRecall(ctx, request)
	if memErr == nil {
		pruned, memWarnings := pruneMemoryContradictions(memFacts, request, bundle.Selection.Focus)
		bundle.Memory = pruned
		warnings = append(warnings, memWarnings...)
	}

	bundle.RequestDigest = buildDigest(request, bundle.Selection, files, intents)

	if len(bundle.Selection.Focus) == 0 {
		bundle.Missing = append(bundle.Missing, "no_focus_files_selected", "no_context_files_loaded", "low_confidence_selection")
		bundle.Selection.LowConfidence = true
	}

	_ = recent // recent files are placeholder-filtered above but not otherwise used in selection

	bundle.Warnings = dedupeStrings(warnings)
	return bundle, nil
}

func timeNow() (t time.Time) { return time.Now() }

func (a *Assembler) runSearch(ctx context.Context, queries []string, intents []Intent, warnings *[]string) ([]types.QueryResult, []types.SnippetInfo) {
	var results []types.QueryResult
	var snippets []types.SnippetInfo
	hitCount := 0

	for _, q := range queries {
		hits, err := a.index.Search(ctx, q)
		if err != nil {
			continue
		}
		results = append(results, types.QueryResult{Query: q, Hits: hits})
		hitCount += len(hits)
	}

	if hitCount == 0 {
		// Search-hit retry: expand queries adaptively from intent keywords.
		var retryQueries []string
		for _, intent := range intents {
			retryQueries = append(retryQueries, intentKeywords[intent]...)
		}
		for _, q := range dedupeStrings(retryQueries) {
			hits, err := a.index.Search(ctx, q)
			if err != nil || len(hits) == 0 {
				continue
			}
			results = append(results, types.QueryResult{Query: q, Hits: hits})
			hitCount += len(hits)
		}
		if hitCount == 0 {
			*warnings = append(*warnings, "docdex_no_hits")
		}
	}

	// UI source-bias retry: when hits look doc-dominant on a UI-intent request.
	if containsIntent(intents, IntentUI) && isDocDominant(results) {
		biased := a.sourceBiasedRetry(ctx, queries)
		if hasSourceHits(biased) {
			results = append(results, biased...)
			*warnings = append(*warnings, "docdex_ui_source_bias_retry")
		}
	}

	for _, r := range results {
		for _, h := range r.Hits {
			snip, err := a.index.OpenSnippet(ctx, h.Path)
			if err == nil {
				snippets = append(snippets, snip)
			}
		}
	}

	return results, snippets
}

func (a *Assembler) sourceBiasedRetry(ctx context.Context, queries []string) []types.QueryResult {
	var out []types.QueryResult
	for _, q := range queries {
		hits, err := a.index.Search(ctx, q+" source")
		if err != nil {
			continue
		}
		out = append(out, types.QueryResult{Query: q + " source", Hits: hits})
	}
	return out
}

func isDocDominant(results []types.QueryResult) bool {
	docs, total := 0, 0
	for _, r := range results {
		for _, h := range r.Hits {
			total++
			if strings.HasSuffix(h.Path, ".md") || strings.Contains(h.Path, "/docs/") {
				docs++
			}
		}
	}
	return total > 0 && docs*2 > total
}

func hasSourceHits(results []types.QueryResult) bool {
	for _, r := range results {
		for _, h := range r.Hits {
			if !strings.HasSuffix(h.Path, ".md") {
				return true
			}
		}
	}
	return false
}

func isUIMarkupPath(path string) bool {
	lc := strings.ToLower(path)
	return strings.HasSuffix(lc, ".html") || strings.HasSuffix(lc, ".css") ||
		strings.HasSuffix(lc, ".jsx") || strings.HasSuffix(lc, ".tsx") || strings.HasSuffix(lc, ".vue")
}

// isUIDominantHits reports whether a majority of search hits are UI markup
// files, the condition under which a code-writing request likely also needs
// the script that drives that markup.
func isUIDominantHits(results []types.QueryResult) bool {
	ui, total := 0, 0
	for _, r := range results {
		for _, h := range r.Hits {
			total++
			if isUIMarkupPath(h.Path) {
				ui++
			}
		}
	}
	return total > 0 && ui*2 > total
}

var scriptCompanionExts = []string{".js", ".ts"}

// scriptCompanions looks for sibling .js/.ts scripts alongside UI markup
// candidates (same path, script extension) and returns the ones that exist.
func (a *Assembler) scriptCompanions(ctx context.Context, paths []string, warnings *[]string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range paths {
		if !isUIMarkupPath(p) {
			continue
		}
		base := strings.TrimSuffix(p, filepath.Ext(p))
		for _, ext := range scriptCompanionExts {
			sibling := base + ext
			if seen[sibling] || sibling == p {
				continue
			}
			if _, err := a.index.OpenSnippet(ctx, sibling); err == nil {
				out = append(out, sibling)
				seen[sibling] = true
			}
		}
	}
	if len(out) > 0 {
		*warnings = append(*warnings, "librarian_script_companions_added")
	}
	return out
}

func containsIntent(intents []Intent, want Intent) bool {
	for _, i := range intents {
		if i == want {
			return true
		}
	}
	return false
}

// injectIntentCandidates adds workspace enumerations under the relevant roots for
// testing/infra/security/observability/backend intents.
func (a *Assembler) injectIntentCandidates(ctx context.Context, intents []Intent, warnings *[]string) []string {
	var out []string
	for _, intent := range intents {
		roots, ok := intentRoots[intent]
		if !ok {
			continue
		}
		tree, err := a.index.Tree(ctx, types.TreeOptions{Path: ".", MaxDepth: 8, ExtraExcludes: nil})
		if err != nil {
			continue
		}
		injected := false
		for _, p := range tree {
			for _, root := range roots {
				if strings.HasPrefix(p, root+"/") || strings.HasPrefix(p, "./"+root+"/") {
					out = append(out, p)
					injected = true
				}
			}
		}
		if injected {
			*warnings = append(*warnings, fmt.Sprintf("librarian_%s_candidates", intent))
		}
	}
	return out
}

func collectCandidatePaths(results []types.QueryResult, preferred, forceFocus []string) []string {
	var out []string
	for _, p := range forceFocus {
		if !isPlaceholderPath(p) {
			out = append(out, p)
		}
	}
	for _, p := range preferred {
		if !isPlaceholderPath(p) {
			out = append(out, p)
		}
	}
	// Sort results by descending score within each query before flattening so the
	// highest-confidence hits are preferred when the budget trims the tail.
	for _, r := range results {
		hits := append([]types.SearchHit{}, r.Hits...)
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		for _, h := range hits {
			if isLowRelevanceConfigHit(h.Path) {
				continue
			}
			out = append(out, h.Path)
		}
	}
	return out
}

// isLowRelevanceConfigHit filters config-type hits that are rarely relevant to a
// code-writing request. Kept in search_results by the caller;
// this only governs candidate-file promotion.
func isLowRelevanceConfigHit(path string) bool {
	lc := strings.ToLower(path)
	return strings.HasSuffix(lc, "openapi/spec.yaml") || strings.HasSuffix(lc, ".lock")
}

func filterPlaceholders(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !isPlaceholderPath(p) {
			out = append(out, p)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (a *Assembler) loadFilesAndStructure(ctx context.Context, paths []string, opts types.AssembleOptions, warnings *[]string) ([]types.ContextFile, []string) {
	var local []string
	files := make([]types.ContextFile, 0, len(paths))

	focusSet := map[string]bool{}
	for _, p := range opts.ForceFocusFiles {
		focusSet[p] = true
	}

	for _, p := range paths {
		snip, err := a.index.OpenSnippet(ctx, p)
		content := snip.Snippet
		role := types.RolePeriphery
		if focusSet[p] {
			role = types.RoleFocus
		} else if err == nil && len(focusSet) == 0 {
			role = types.RoleFocus
		}
		files = append(files, types.ContextFile{
			Path:    p,
			Role:    role,
			Content: content,
			Size:    len(content),
			Origin:  "search",
		})

		if isStructurallyApplicable(p) {
			if _, err := a.index.Symbols(ctx, p); err != nil {
				local = append(local, fmt.Sprintf("docdex_symbols_failed:%s", p))
			}
			if _, err := a.index.AST(ctx, p); err != nil {
				local = append(local, fmt.Sprintf("docdex_ast_failed:%s", p))
			}
		} else {
			local = append(local, fmt.Sprintf("docdex_symbols_not_applicable:%s", p), fmt.Sprintf("docdex_ast_not_applicable:%s", p))
		}

		if supportsImpactAnalysis(p) {
			if impact, err := a.index.ImpactGraph(ctx, p); err == nil && len(impact.Diagnostics) > 0 {
				local = append(local, fmt.Sprintf("impact_graph_sparse:%s", p))
			}
		}
	}

	*warnings = append(*warnings, local...)
	return files, nil
}

func buildSelection(files []types.ContextFile) types.Selection {
	var sel types.Selection
	for _, f := range files {
		sel.All = append(sel.All, f.Path)
		if f.Role == types.RoleFocus {
			sel.Focus = append(sel.Focus, f.Path)
		} else {
			sel.Periphery = append(sel.Periphery, f.Path)
		}
	}
	return sel
}

func buildDigest(request string, sel types.Selection, files []types.ContextFile, intents []Intent) types.RequestDigest {
	confidence := types.ConfidenceHigh
	summary := fmt.Sprintf("Request targets %d focus file(s)", len(sel.Focus))

	if len(sel.Focus) == 0 {
		confidence = types.ConfidenceLow
	} else if allMarkup(files, sel.Focus) && containsCodeWritingVerb(request) {
		confidence = types.ConfidenceMedium
		summary = "markup-only focus selection for a code-writing request"
	}

	return types.RequestDigest{
		Summary:        summary,
		RefinedQuery:   request,
		CandidateFiles: sel.All,
		Confidence:     confidence,
	}
}

func allMarkup(files []types.ContextFile, focus []string) bool {
	focusSet := map[string]bool{}
	for _, f := range focus {
		focusSet[f] = true
	}
	any := false
	for _, f := range files {
		if !focusSet[f.Path] {
			continue
		}
		any = true
		lc := strings.ToLower(f.Path)
		if !strings.HasSuffix(lc, ".html") && !strings.HasSuffix(lc, ".md") && !strings.HasSuffix(lc, ".css") {
			return false
		}
	}
	return any
}

func containsCodeWritingVerb(request string) bool {
	lc := strings.ToLower(request)
	for _, verb := range []string{"implement", "fix", "add", "write", "build", "refactor"} {
		if strings.Contains(lc, verb) {
			return true
		}
	}
	return false
}
