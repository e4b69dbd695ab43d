package contextassembler

import (
	"context"
	"fmt"

	"patchforge/internal/types"
)

// RunResearchTools implements types.ContextAssembler.RunResearchTools:
// runs the same tool set as Assemble but records every invocation as a ToolRun,
// skipping tree/dag_export when already cached on the bundle.
func (a *Assembler) RunResearchTools(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error) {
	out := &types.ResearchOutput{}

	record := func(tool string, ok bool, err error, skipped bool, notes string) {
		tr := types.ToolRun{Tool: tool, OK: ok, Skipped: skipped, Notes: notes}
		if err != nil {
			tr.Error = err.Error()
		}
		out.ToolRuns = append(out.ToolRuns, tr)
	}

	hits, err := a.index.Search(ctx, request)
	record("search", err == nil, err, false, "")
	if err == nil {
		out.Outputs.SearchResults = append(out.Outputs.SearchResults, types.QueryResult{Query: request, Hits: hits})
	} else {
		out.Warnings = append(out.Warnings, "research_docdex_search_failed")
	}

	for _, h := range hits {
		snip, err := a.index.OpenSnippet(ctx, h.Path)
		record("open_or_snippet", err == nil, err, false, "")
		if err == nil {
			out.Outputs.Snippets = append(out.Outputs.Snippets, snip)
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf("research_docdex_open_failed:%s", h.Path))
		}

		if isStructurallyApplicable(h.Path) {
			if sym, err := a.index.Symbols(ctx, h.Path); err == nil {
				out.Outputs.Symbols = append(out.Outputs.Symbols, sym)
				record("symbols_or_ast", true, nil, false, "")
			} else {
				record("symbols_or_ast", false, err, false, "")
			}
		}

		if supportsImpactAnalysis(h.Path) {
			if imp, err := a.index.ImpactGraph(ctx, h.Path); err == nil {
				out.Outputs.Impact = append(out.Outputs.Impact, imp)
				record("impact", true, nil, false, "")
			} else {
				record("impact", false, err, false, "")
			}
		}
	}

	if bundle != nil && len(bundle.RepoMap) > 0 {
		record("tree", true, nil, true, "repo_map_cached")
		out.Outputs.RepoMap = bundle.RepoMap
	} else if tree, err := a.index.Tree(ctx, types.TreeOptions{Path: ".", MaxDepth: 32}); err == nil {
		record("tree", true, nil, false, "")
		out.Outputs.RepoMap = tree
	} else {
		record("tree", false, err, false, "")
	}

	if bundle != nil && bundle.Research != nil && bundle.Research.Outputs.DagSummary != "" {
		record("dag_export", true, nil, true, "dag_summary_cached")
		out.Outputs.DagSummary = bundle.Research.Outputs.DagSummary
	} else {
		record("dag_export", true, nil, true, "not_applicable")
	}

	return out, nil
}

// FulfillAgentRequest implements types.ContextAssembler.FulfillAgentRequest:
// dispatches each need against the index in order and records the request id so
// a later call can be checked against the request it is fulfilling.
func (a *Assembler) FulfillAgentRequest(ctx context.Context, req types.AgentRequest) (*types.FulfillResult, error) {
	a.lastRequestID = req.RequestID

	out := &types.FulfillResult{Version: "v1", RequestID: req.RequestID}
	for _, need := range req.Needs {
		entry := types.FulfillEntry{Need: need}
		switch need {
		case "docdex.search":
			hits, err := a.index.Search(ctx, req.RequestID)
			entry.OK = err == nil
			if err != nil {
				entry.Error = err.Error()
			} else {
				entry.Result = hits
			}
		case "docdex.open":
			snip, err := a.index.OpenSnippet(ctx, req.RequestID)
			entry.OK = err == nil
			if err != nil {
				entry.Error = err.Error()
			} else {
				entry.Result = snip
			}
		case "docdex.symbols":
			sym, err := a.index.Symbols(ctx, req.RequestID)
			entry.OK = err == nil
			if err != nil {
				entry.Error = err.Error()
			} else {
				entry.Result = sym
			}
		default:
			entry.OK = false
			entry.Error = fmt.Sprintf("unknown need: %s", need)
		}
		out.Results = append(out.Results, entry)
	}
	return out, nil
}

// LastRequestID exposes the most recently fulfilled AGENT_REQUEST id, for tests
// asserting it tracks the request currently being fulfilled.
func (a *Assembler) LastRequestID() string { return a.lastRequestID }
