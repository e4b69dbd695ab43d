// Package config implements patchforge's YAML-based configuration: a Config struct
// of nested per-concern sections, DefaultConfig() returning sane defaults,
// Load/Save via yaml.v3, and env-var overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"patchforge/internal/types"
)

// PipelineConfig mirrors the Smart Pipeline's configuration surface.
type PipelineConfig struct {
	MaxRetries          int                           `yaml:"maxRetries"`
	MaxContextRefreshes int                           `yaml:"maxContextRefreshes"`
	DeepMode            bool                          `yaml:"deepMode"`
	DeepInvestigation   types.DeepInvestigationConfig `yaml:"deepInvestigation"`
	PhaseTimeout        time.Duration                 `yaml:"phaseTimeout"`
}

// LaneConfig mirrors the Lane Context Manager's configuration surface.
type LaneConfig struct {
	MaxMessages           int            `yaml:"maxMessages"`
	MaxBytesPerLane       int            `yaml:"maxBytesPerLane"`
	ModelTokenLimits      map[string]int `yaml:"modelTokenLimits"`
	SummarizeEnabled      bool           `yaml:"summarizeEnabled"`
	SummarizeThresholdPct float64        `yaml:"summarizeThresholdPct"`
	SummarizeTargetTokens int            `yaml:"summarizeTargetTokens"`
}

// LoggingConfig controls the per-category enable toggles and artifact root.
type LoggingConfig struct {
	EnabledCategories map[string]bool `yaml:"enabledCategories"`
	Level             string          `yaml:"level"`
	ArtifactRoot      string          `yaml:"artifactRoot"`
}

// ProviderPolicyConfig carries provider-error substring patterns. The pipeline
// does not read them; provider-fallback detection uses the built-in list in
// errs.ClassifyProviderError.
type ProviderPolicyConfig struct {
	Patterns []string `yaml:"patterns"`
}

// ContextConfig controls the Context Assembler's budgets.
type ContextConfig struct {
	MaxQueries        int `yaml:"maxQueries"`
	MaxFiles          int `yaml:"maxFiles"`
	MaxTotalBytes     int `yaml:"maxTotalBytes"`
	TokenBudget       int `yaml:"tokenBudget"`
	MaxFocusBytes     int `yaml:"maxFocusBytes"`
	MaxPeripheryBytes int `yaml:"maxPeripheryBytes"`
}

// Config is the top-level patchforge configuration.
type Config struct {
	Pipeline PipelineConfig       `yaml:"pipeline"`
	Lane     LaneConfig           `yaml:"lane"`
	Logging  LoggingConfig        `yaml:"logging"`
	Provider ProviderPolicyConfig `yaml:"provider"`
	Context  ContextConfig        `yaml:"context"`
}

// DefaultConfig returns the documented defaults (maxRetries: 1, etc.).
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			MaxRetries:          1,
			MaxContextRefreshes: 2,
			DeepMode:            false,
			PhaseTimeout:        5 * time.Minute,
			DeepInvestigation: types.DeepInvestigationConfig{
				ToolQuota: types.ToolQuota{
					Search: 1, OpenOrSnippet: 1, SymbolsOrAST: 0, Impact: 0, Tree: 0, DagExport: 0,
				},
				InvestigationBudget: types.InvestigationBudget{
					MinCycles: 1, MinSeconds: 0, MaxCycles: 3,
				},
				EvidenceGate: types.EvidenceGate{
					MinSearchHits: 1, MinOpenOrSnippet: 0, MinSymbolsOrAST: 0, MinImpact: 0, MaxWarnings: 0,
				},
			},
		},
		Lane: LaneConfig{
			MaxMessages:     200,
			MaxBytesPerLane: 200_000,
			ModelTokenLimits: map[string]int{
				"default": 128_000,
			},
			SummarizeEnabled:      true,
			SummarizeThresholdPct: 0.75,
			SummarizeTargetTokens: 2_000,
		},
		Logging: LoggingConfig{
			EnabledCategories: map[string]bool{
				"pipeline": true, "context": true, "lane": true,
				"research": true, "architect": true, "builder": true, "critic": true,
			},
			Level:        "info",
			ArtifactRoot: ".patchforge/jobs",
		},
		Provider: ProviderPolicyConfig{
			Patterns: []string{"AUTH_ERROR", "429", "usage_limit_reached"},
		},
		Context: ContextConfig{
			MaxQueries:        8,
			MaxFiles:          40,
			MaxTotalBytes:     400_000,
			TokenBudget:       100_000,
			MaxFocusBytes:     200_000,
			MaxPeripheryBytes: 200_000,
		},
	}
}

// Load reads a YAML config file, falling back to DefaultConfig() when the path does
// not exist, then applies env overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyEnvOverrides(&cfg)
				return cfg, nil
			}
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides reads PATCHFORGE_* env vars and overlays them onto cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PATCHFORGE_DEEP_MODE"); v == "true" {
		cfg.Pipeline.DeepMode = true
	}
	if v := os.Getenv("PATCHFORGE_ARTIFACT_ROOT"); v != "" {
		cfg.Logging.ArtifactRoot = v
	}
	if v := os.Getenv("PATCHFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// WatchAndReload watches the config file for changes and invokes onChange with the
// freshly loaded Config, using fsnotify scoped to just the config file (workspace
// watching belongs to the index subsystem, out of scope here).
func WatchAndReload(path string, onChange func(Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch add %s: %w", path, err)
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if cfg, err := Load(path); err == nil {
						onChange(cfg)
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return watcher.Close, nil
}
