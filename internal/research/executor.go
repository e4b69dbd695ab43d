// Package research implements the Research Executor: in deep
// mode, runs cycles of ContextAssembler.RunResearchTools until the evidence gate
// and tool quota are met, bounded by a cycle budget, tolerating specific
// docdex-only failures. InvestigationBudget.MinSeconds is not consulted. Structured as a cooperative heartbeat loop with
// multi-condition completion checks.
package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"patchforge/internal/errs"
	"patchforge/internal/logging"
	"patchforge/internal/types"
)

// CycleReport is what one research cycle contributes to telemetry. Event names
// the investigation_* event this report represents (defaulting to
// "investigation_telemetry" when empty); Data carries that event's payload.
type CycleReport struct {
	CycleNumber int
	Duration    time.Duration
	Output      *types.ResearchOutput
	Event       string
	Data        map[string]any
}

// Executor drives the bounded research-cycle loop.
type Executor struct {
	assembler types.ContextAssembler
	cfg       types.DeepInvestigationConfig
	onCycle   func(report CycleReport)
}

// New builds an Executor.
func New(assembler types.ContextAssembler, cfg types.DeepInvestigationConfig, onCycle func(CycleReport)) *Executor {
	return &Executor{assembler: assembler, cfg: cfg, onCycle: onCycle}
}

func (e *Executor) report(r CycleReport) {
	if e.onCycle != nil {
		e.onCycle(r)
	}
}

// Run executes research cycles until quota+gate+budget conditions are met or the
// run must fail.
func (e *Executor) Run(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error) {
	logger := logging.Get(logging.CategoryResearch)
	start := time.Now()

	var aggregate types.ResearchOutput
	aggregate.ToolUsageTotals = map[string]int{}

	minCycles := e.cfg.InvestigationBudget.MinCycles
	maxCycles := e.cfg.InvestigationBudget.MaxCycles
	if maxCycles <= 0 {
		maxCycles = 1
	}

	cycles := 0
	for {
		cycles++
		cycleStart := time.Now()

		out, err := e.runCycleConcurrently(ctx, request, bundle)
		if err != nil {
			return nil, err
		}
		mergeOutput(&aggregate, out)
		aggregate.Cycles = cycles

		usage := toolUsage(&aggregate)
		aggregate.ToolUsage = usage
		for k, v := range usage {
			aggregate.ToolUsageTotals[k] = v
		}

		gate := evaluateEvidenceGate(e.cfg.EvidenceGate, &aggregate)
		aggregate.EvidenceGate = gate

		quotaMet, quotaUnmet := evaluateToolQuota(e.cfg.ToolQuota, usage)

		budget := types.BudgetResult{
			CyclesPerformed: cycles,
			Elapsed:         time.Since(start),
			MinCyclesMet:    cycles >= minCycles,
			WithinMaxCycles: cycles <= maxCycles,
		}
		aggregate.Budget = budget

		status := "ok"
		if !(budget.MinCyclesMet && quotaMet && gate.Met) {
			status = "continuing"
		}
		e.report(CycleReport{
			CycleNumber: cycles,
			Duration:    time.Since(cycleStart),
			Output:      &aggregate,
			Event:       "investigation_telemetry",
			Data: map[string]any{
				"phase": "research", "status": status, "duration_ms": time.Since(cycleStart).Milliseconds(),
				"evidence_gate": gate, "quota": e.cfg.ToolQuota, "budget": budget,
				"tool_usage": usage, "tool_usage_totals": aggregate.ToolUsageTotals,
				"summary": fmt.Sprintf("cycle %d: evidence_met=%v quota_met=%v", cycles, gate.Met, quotaMet),
			},
		})
		logger.Info("investigation_telemetry cycle=%d evidence_met=%v quota_met=%v elapsed=%s",
			cycles, gate.Met, quotaMet, budget.Elapsed)

		if budget.MinCyclesMet && quotaMet && gate.Met {
			aggregate.Status = "ok"
			return &aggregate, nil
		}

		quotaTolerated := quotaMet || onlyDocdexFailures(quotaUnmet, &aggregate)
		if !quotaMet && quotaTolerated {
			logger.Warn("investigation_quota_warning_tolerated: %v", quotaUnmet)
			e.report(CycleReport{CycleNumber: cycles, Event: "investigation_quota_warning_tolerated",
				Data: map[string]any{"phase": "research", "quota_unmet": quotaUnmet}})
		}

		gateTolerated := gate.Met || gate.WarningsOnly
		if !gate.Met && gate.WarningsOnly {
			logger.Warn("investigation_evidence_warning_tolerated: %v", gate.UnmetReasons)
			e.report(CycleReport{CycleNumber: cycles, Event: "investigation_evidence_warning_tolerated",
				Data: map[string]any{"phase": "research", "evidence_unmet": gate.UnmetReasons}})
		}

		atBudgetLimit := cycles >= maxCycles

		if atBudgetLimit && !budget.MinCyclesMet {
			e.report(CycleReport{CycleNumber: cycles, Event: "investigation_budget_failed",
				Data: map[string]any{"phase": "research", "cycles": cycles, "budget": budget}})
			return nil, (&errs.Error{Kind: errs.KindDeepInvestigationBudgetUnmet, Err: fmt.Errorf("deep_investigation_budget_unmet: %d cycles", cycles)}).
				WithCode("deep_investigation_budget_unmet", "Increase maxCycles or minCycles to allow the investigation to complete.")
		}

		if !quotaTolerated && (budget.MinCyclesMet || atBudgetLimit) {
			e.report(CycleReport{CycleNumber: cycles, Event: "investigation_quota_failed",
				Data: map[string]any{"phase": "research", "quota_unmet": quotaUnmet}})
			return nil, (&errs.Error{Kind: errs.KindDeepInvestigationQuotaUnmet, Err: fmt.Errorf("deep_investigation_quota_unmet: %v", quotaUnmet)}).
				WithCode("deep_investigation_quota_unmet", "Run additional search/open tool calls to satisfy the configured quota.")
		}
		if !gateTolerated && (budget.MinCyclesMet || atBudgetLimit) {
			e.report(CycleReport{CycleNumber: cycles, Event: "investigation_evidence_failed",
				Data: map[string]any{"phase": "research", "evidence_unmet": gate.UnmetReasons}})
			return nil, (&errs.Error{Kind: errs.KindDeepInvestigationEvidenceUnmet, Err: fmt.Errorf("deep_investigation_evidence_unmet: %v", gate.UnmetReasons)}).
				WithCode("deep_investigation_evidence_unmet", "Broaden search queries to gather more evidence before planning.")
		}

		if atBudgetLimit {
			// minCycles met (checked above) and any quota/gate shortfalls were
			// tolerated (also checked above): accept the aggregate as final.
			aggregate.Status = "budget_exhausted"
			return &aggregate, nil
		}

		select {
		case <-ctx.Done():
			return nil, errs.Cancelled(ctx.Err())
		default:
		}
	}
}

// runCycleConcurrently splits one research cycle into the request itself plus one
// sub-investigation per focus file the librarian already selected (up to three),
// and fans those out through RunResearchTools concurrently, bounded by SetLimit.
// A bundle with no focus files degrades to the single-call case.
func (e *Executor) runCycleConcurrently(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error) {
	topics := researchTopics(request, bundle)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	outputs := make([]*types.ResearchOutput, len(topics))
	for i, topic := range topics {
		i, topic := i, topic
		g.Go(func() error {
			o, err := e.assembler.RunResearchTools(gctx, topic, bundle)
			if err != nil {
				return err
			}
			outputs[i] = o
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &types.ResearchOutput{}
	for _, o := range outputs {
		if o != nil {
			mergeOutput(merged, o)
		}
	}
	return merged, nil
}

// researchTopics fans one cycle's request out into independently investigable
// sub-requests: the request itself, plus up to three focus files already
// selected by the librarian, each appended as extra search context.
func researchTopics(request string, bundle *types.ContextBundle) []string {
	topics := []string{request}
	if bundle == nil {
		return topics
	}
	seen := map[string]bool{request: true}
	for _, f := range bundle.Selection.Focus {
		topic := request + " " + f
		if seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, topic)
		if len(topics) >= 4 {
			break
		}
	}
	return topics
}

func mergeOutput(into *types.ResearchOutput, from *types.ResearchOutput) {
	into.ToolRuns = append(into.ToolRuns, from.ToolRuns...)
	into.Warnings = append(into.Warnings, from.Warnings...)
	into.Outputs.SearchResults = append(into.Outputs.SearchResults, from.Outputs.SearchResults...)
	into.Outputs.Snippets = append(into.Outputs.Snippets, from.Outputs.Snippets...)
	into.Outputs.Symbols = append(into.Outputs.Symbols, from.Outputs.Symbols...)
	into.Outputs.AST = append(into.Outputs.AST, from.Outputs.AST...)
	into.Outputs.Impact = append(into.Outputs.Impact, from.Outputs.Impact...)
	into.Outputs.ImpactDiagnostics = append(into.Outputs.ImpactDiagnostics, from.Outputs.ImpactDiagnostics...)
	if len(from.Outputs.RepoMap) > 0 {
		into.Outputs.RepoMap = from.Outputs.RepoMap
	}
	if from.Outputs.DagSummary != "" {
		into.Outputs.DagSummary = from.Outputs.DagSummary
	}
}

func toolUsage(out *types.ResearchOutput) map[string]int {
	usage := map[string]int{}
	for _, tr := range out.ToolRuns {
		if tr.OK && !tr.Skipped {
			usage[tr.Tool]++
		}
	}
	return usage
}

func evaluateToolQuota(quota types.ToolQuota, usage map[string]int) (bool, []string) {
	var unmet []string
	check := func(name string, want, got int) {
		if got < want {
			unmet = append(unmet, fmt.Sprintf("%s: have %d want %d", name, got, want))
		}
	}
	check("search", quota.Search, usage["search"])
	check("openOrSnippet", quota.OpenOrSnippet, usage["open_or_snippet"])
	check("symbolsOrAst", quota.SymbolsOrAST, usage["symbols_or_ast"])
	check("impact", quota.Impact, usage["impact"])
	check("tree", quota.Tree, usage["tree"])
	check("dagExport", quota.DagExport, usage["dag_export"])
	return len(unmet) == 0, unmet
}

func evaluateEvidenceGate(gate types.EvidenceGate, out *types.ResearchOutput) types.EvidenceGateResult {
	hits := 0
	for _, r := range out.Outputs.SearchResults {
		hits += len(r.Hits)
	}

	var unmet []string
	if hits < gate.MinSearchHits {
		unmet = append(unmet, fmt.Sprintf("minSearchHits: have %d want %d", hits, gate.MinSearchHits))
	}
	if len(out.Outputs.Snippets) < gate.MinOpenOrSnippet {
		unmet = append(unmet, "minOpenOrSnippet unmet")
	}
	if len(out.Outputs.Symbols)+len(out.Outputs.AST) < gate.MinSymbolsOrAST {
		unmet = append(unmet, "minSymbolsOrAst unmet")
	}
	if len(out.Outputs.Impact) < gate.MinImpact {
		unmet = append(unmet, "minImpact unmet")
	}

	warningsOnlyCause := len(unmet) == 0 && len(out.Warnings) > gate.MaxWarnings
	if warningsOnlyCause {
		unmet = append(unmet, "maxWarnings exceeded")
	}

	return types.EvidenceGateResult{
		Met:          len(unmet) == 0,
		UnmetReasons: unmet,
		WarningsOnly: warningsOnlyCause,
	}
}

// onlyDocdexFailures reports whether a quota shortfall is tolerable: true when
// nothing is unmet, or when there is at least one warning and every warning
// starts with "research_docdex_". Warnings are not matched to individual unmet
// tools.
func onlyDocdexFailures(unmet []string, out *types.ResearchOutput) bool {
	if len(unmet) == 0 {
		return true
	}
	for _, w := range out.Warnings {
		if !strings.HasPrefix(w, "research_docdex_") {
			return false
		}
	}
	return len(out.Warnings) > 0
}
