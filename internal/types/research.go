package types

import "time"

// ToolRun is one recorded tool invocation within a research cycle.
type ToolRun struct {
	Tool    string `json:"tool"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// ResearchOutputs is the evidence collected by one or more research cycles.
type ResearchOutputs struct {
	SearchResults     []QueryResult `json:"searchResults,omitempty"`
	Snippets          []SnippetInfo `json:"snippets,omitempty"`
	Symbols           []SymbolInfo  `json:"symbols,omitempty"`
	AST               []ASTInfo     `json:"ast,omitempty"`
	Impact            []ImpactInfo  `json:"impact,omitempty"`
	ImpactDiagnostics []string      `json:"impactDiagnostics,omitempty"`
	RepoMap           []string      `json:"repoMap,omitempty"`
	DagSummary        string        `json:"dagSummary,omitempty"`
}

// ResearchOutput is the structured record produced by deep-mode research cycles.
type ResearchOutput struct {
	Status   string          `json:"status"`
	Cycles   int             `json:"cycles"`
	ToolRuns []ToolRun       `json:"toolRuns"`
	Warnings []string        `json:"warnings"`
	Outputs  ResearchOutputs `json:"outputs"`

	ToolUsage      map[string]int `json:"tool_usage"`
	ToolUsageTotals map[string]int `json:"tool_usage_totals"`
	EvidenceGate   EvidenceGateResult `json:"evidenceGate"`
	Budget         BudgetResult       `json:"budget"`
}

// ToolQuota is the per-tool-group minimum number of successful, non-skipped runs
// required before architect planning is allowed in deep mode.
type ToolQuota struct {
	Search        int `yaml:"search"`
	OpenOrSnippet int `yaml:"openOrSnippet"`
	SymbolsOrAST  int `yaml:"symbolsOrAst"`
	Impact        int `yaml:"impact"`
	Tree          int `yaml:"tree"`
	DagExport     int `yaml:"dagExport"`
}

// InvestigationBudget bounds how many cycles / how much time research may spend.
type InvestigationBudget struct {
	MinCycles  int           `yaml:"minCycles"`
	MinSeconds int           `yaml:"minSeconds"`
	MaxCycles  int           `yaml:"maxCycles"`
}

// EvidenceGate is the minimum evidence counts required before planning proceeds.
type EvidenceGate struct {
	MinSearchHits     int `yaml:"minSearchHits"`
	MinOpenOrSnippet  int `yaml:"minOpenOrSnippet"`
	MinSymbolsOrAST   int `yaml:"minSymbolsOrAst"`
	MinImpact         int `yaml:"minImpact"`
	MaxWarnings       int `yaml:"maxWarnings"`
}

// DeepInvestigationConfig bundles the three research-gating knobs.
type DeepInvestigationConfig struct {
	ToolQuota           ToolQuota
	InvestigationBudget InvestigationBudget
	EvidenceGate        EvidenceGate
}

// EvidenceGateResult records whether the evidence gate passed and why not.
type EvidenceGateResult struct {
	Met            bool     `json:"met"`
	UnmetReasons   []string `json:"unmet_reasons,omitempty"`
	WarningsOnly   bool     `json:"warnings_only"`
}

// BudgetResult records the cycle/time budget outcome for a research run.
type BudgetResult struct {
	CyclesPerformed int           `json:"cycles_performed"`
	Elapsed         time.Duration `json:"elapsed"`
	MinCyclesMet    bool          `json:"min_cycles_met"`
	WithinMaxCycles bool          `json:"within_max_cycles"`
}
