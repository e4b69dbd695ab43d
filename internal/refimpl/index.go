package refimpl

import (
	"context"
	"sort"
	"strings"
	"time"

	"patchforge/internal/types"
)

// FakeIndexClient is a deterministic in-memory types.IndexClient backed by a fixed
// set of files, for tests and the cmd/patchforge demo. A real deployment's index
// subsystem lives outside this module.
type FakeIndexClient struct {
	files map[string]string
}

// NewFakeIndexClient builds an index over the given path->content file set.
func NewFakeIndexClient(files map[string]string) *FakeIndexClient {
	return &FakeIndexClient{files: files}
}

// Search implements types.IndexClient: a substring match over file contents,
// ranked by match count.
func (f *FakeIndexClient) Search(ctx context.Context, query string) ([]types.SearchHit, error) {
	q := strings.ToLower(query)
	var hits []types.SearchHit
	for path, content := range f.files {
		count := strings.Count(strings.ToLower(content), q) + strings.Count(strings.ToLower(path), q)
		if count == 0 {
			continue
		}
		hits = append(hits, types.SearchHit{DocID: path, Path: path, Score: float64(count)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	return hits, nil
}

// Tree implements types.IndexClient.
func (f *FakeIndexClient) Tree(ctx context.Context, opts types.TreeOptions) ([]string, error) {
	var paths []string
	for path := range f.files {
		if opts.Path != "" && !strings.HasPrefix(path, opts.Path) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// OpenSnippet implements types.IndexClient.
func (f *FakeIndexClient) OpenSnippet(ctx context.Context, path string) (types.SnippetInfo, error) {
	content := f.files[path]
	if len(content) > 400 {
		content = content[:400]
	}
	return types.SnippetInfo{Path: path, Snippet: content}, nil
}

// Symbols implements types.IndexClient with a line-based heuristic (no real AST).
func (f *FakeIndexClient) Symbols(ctx context.Context, path string) (types.SymbolInfo, error) {
	var symbols []string
	for _, line := range strings.Split(f.files[path], "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "func ") || strings.HasPrefix(line, "type ") {
			symbols = append(symbols, line)
		}
	}
	return types.SymbolInfo{Path: path, Symbols: symbols}, nil
}

// AST implements types.IndexClient with a placeholder summary; real AST analysis
// belongs to the out-of-scope index subsystem.
func (f *FakeIndexClient) AST(ctx context.Context, path string) (types.ASTInfo, error) {
	return types.ASTInfo{Path: path, Summary: "ast summary unavailable in fake index"}, nil
}

// ImpactGraph implements types.IndexClient with an empty graph (no cross-file
// dependency tracking in the fake index).
func (f *FakeIndexClient) ImpactGraph(ctx context.Context, path string) (types.ImpactInfo, error) {
	return types.ImpactInfo{Path: path}, nil
}

// MemoryRecall implements types.IndexClient with no stored facts.
func (f *FakeIndexClient) MemoryRecall(ctx context.Context, query string) ([]types.MemoryFact, error) {
	return nil, nil
}

// GetProfile implements types.IndexClient.
func (f *FakeIndexClient) GetProfile(ctx context.Context) (map[string]any, error) {
	return map[string]any{"fileCount": len(f.files)}, nil
}

// Stats implements types.IndexClient.
func (f *FakeIndexClient) Stats(ctx context.Context) (types.IndexInfo, error) {
	return types.IndexInfo{LastUpdatedEpochMs: time.Now().UnixMilli(), NumDocs: len(f.files)}, nil
}

// HealthCheck implements types.IndexClient.
func (f *FakeIndexClient) HealthCheck(ctx context.Context) error { return nil }
