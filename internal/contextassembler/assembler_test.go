package contextassembler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"patchforge/internal/config"
	"patchforge/internal/types"
)

type fakeIndex struct {
	searchResults map[string][]types.SearchHit
	snippets      map[string]types.SnippetInfo
	stats         types.IndexInfo
	statsErr      error
	healthErr     error
	memory        []types.MemoryFact
	tree          []string
}

func (f *fakeIndex) Search(ctx context.Context, query string) ([]types.SearchHit, error) {
	return f.searchResults[query], nil
}
func (f *fakeIndex) Tree(ctx context.Context, opts types.TreeOptions) ([]string, error) {
	return f.tree, nil
}
func (f *fakeIndex) OpenSnippet(ctx context.Context, path string) (types.SnippetInfo, error) {
	if s, ok := f.snippets[path]; ok {
		return s, nil
	}
	return types.SnippetInfo{}, errors.New("not found")
}
func (f *fakeIndex) Symbols(ctx context.Context, path string) (types.SymbolInfo, error) {
	return types.SymbolInfo{Path: path}, nil
}
func (f *fakeIndex) AST(ctx context.Context, path string) (types.ASTInfo, error) {
	return types.ASTInfo{Path: path}, nil
}
func (f *fakeIndex) ImpactGraph(ctx context.Context, path string) (types.ImpactInfo, error) {
	return types.ImpactInfo{Path: path}, nil
}
func (f *fakeIndex) MemoryRecall(ctx context.Context, query string) ([]types.MemoryFact, error) {
	return f.memory, nil
}
func (f *fakeIndex) GetProfile(ctx context.Context) (map[string]any, error) { return nil, nil }
func (f *fakeIndex) Stats(ctx context.Context) (types.IndexInfo, error)     { return f.stats, f.statsErr }
func (f *fakeIndex) HealthCheck(ctx context.Context) error                 { return f.healthErr }

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		searchResults: map[string][]types.SearchHit{},
		snippets:      map[string]types.SnippetInfo{},
		stats:         types.IndexInfo{NumDocs: 10},
	}
}

func TestAssembleNoHitsEmitsWarning(t *testing.T) {
	idx := newFakeIndex()
	a := New(idx, config.DefaultConfig().Context)

	bundle, err := a.Assemble(context.Background(), "do thing", types.AssembleOptions{})
	require.NoError(t, err)
	require.Contains(t, bundle.Warnings, "docdex_no_hits")
	require.Contains(t, bundle.Missing, "no_focus_files_selected")
}

func TestAssembleSkipSearchWhenPreferred(t *testing.T) {
	idx := newFakeIndex()
	idx.snippets["src/auth.ts"] = types.SnippetInfo{Path: "src/auth.ts", Snippet: "export function login() {}"}
	a := New(idx, config.DefaultConfig().Context)

	bundle, err := a.Assemble(context.Background(), "fix auth", types.AssembleOptions{
		PreferredFiles:          []string{"src/auth.ts"},
		SkipSearchWhenPreferred: true,
	})
	require.NoError(t, err)
	require.Contains(t, bundle.Warnings, "docdex_search_skipped")
	require.NotContains(t, bundle.Warnings, "docdex_no_hits")
	require.Contains(t, bundle.Selection.Focus, "src/auth.ts")
}

func TestAssembleDeepModeFailsOnHealthCheck(t *testing.T) {
	idx := newFakeIndex()
	idx.healthErr = errors.New("down")
	a := New(idx, config.DefaultConfig().Context)

	_, err := a.Assemble(context.Background(), "investigate", types.AssembleOptions{DeepMode: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Deep investigation requires docdex health")
}

func TestAssembleDeepModeFailsOnEmptyIndex(t *testing.T) {
	idx := newFakeIndex()
	idx.stats = types.IndexInfo{NumDocs: 0}
	a := New(idx, config.DefaultConfig().Context)

	_, err := a.Assemble(context.Background(), "investigate", types.AssembleOptions{DeepMode: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "docdex_index_empty")
}

func TestPruneMemoryContradictionsKeepsHigherScore(t *testing.T) {
	facts := []types.MemoryFact{
		{Path: "src/a.ts", Entity: "flagX", Claim: "flagX is enabled", Score: 0.4},
		{Path: "src/a.ts", Entity: "flagX", Claim: "flagX is not enabled", Score: 0.9},
	}
	kept, warnings := pruneMemoryContradictions(facts, "flagX", nil)
	require.Len(t, kept, 1)
	require.Equal(t, 0.9, kept[0].Score)
	require.Contains(t, warnings, "memory_conflicts_pruned")
}

func TestFulfillAgentRequestRecordsLastRequestID(t *testing.T) {
	idx := newFakeIndex()
	a := New(idx, config.DefaultConfig().Context)

	_, err := a.FulfillAgentRequest(context.Background(), types.AgentRequest{RequestID: "req-1", Needs: []string{"docdex.search"}})
	require.NoError(t, err)
	require.Equal(t, "req-1", a.LastRequestID())
}

func TestClassifyIntents(t *testing.T) {
	require.Contains(t, ClassifyIntents("fix the login button css"), IntentUI)
	require.Contains(t, ClassifyIntents("add a new API endpoint handler"), IntentBackend)
	require.Equal(t, []Intent{IntentGeneric}, ClassifyIntents("do the thing"))
}
