// Package main implements the patchforge CLI: a thin cobra wrapper that wires the
// Smart Pipeline against the reference/demo collaborator implementations for
// manual invocation.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"patchforge/internal/architect"
	"patchforge/internal/builder"
	"patchforge/internal/config"
	"patchforge/internal/contextassembler"
	"patchforge/internal/critic"
	"patchforge/internal/lane"
	"patchforge/internal/logging"
	"patchforge/internal/pipeline"
	"patchforge/internal/refimpl"
	"patchforge/internal/types"
)

var (
	workspace  string
	deepMode   bool
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "patchforge",
	Short: "patchforge runs the Smart Pipeline against a workspace for a single request",
	Long: `patchforge drives a natural-language change request through the Smart
Pipeline: Librarian, optional deep-mode Research, Architect, Builder, and Critic.

This binary wires the pipeline against reference implementations (an in-memory
file index, a local-filesystem patch applier, and a deterministic demo LLM) rather
than a production index/provider/VCS stack.`,
}

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "run one request through the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory to index and patch")
	rootCmd.PersistentFlags().BoolVar(&deepMode, "deep", false, "Enable deep-mode research before planning")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a patchforge YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".patchforge/patchforge.db", "Path to the SQLite job/memory store")
	rootCmd.AddCommand(runCmd)
}

func runRequest(request string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Pipeline.DeepMode = deepMode

	if err := logging.Initialize(levelFromString(cfg.Logging.Level), toCategoryMap(cfg.Logging.EnabledCategories), cfg.Logging.ArtifactRoot); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	files, err := loadWorkspaceFiles(absWorkspace)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("prepare db dir: %w", err)
	}
	store, err := refimpl.NewSQLiteJobStore(dbPath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	index := refimpl.NewFakeIndexClient(files)
	assembler := contextassembler.New(index, cfg.Context)
	llm := echoLLMClient{}
	vcs := newLocalFileVCS(absWorkspace)
	laneManager := lane.NewManager(cfg.Lane, nil)

	jobID := uuid.NewString()
	deps := pipeline.Dependencies{
		ContextAssembler: assembler,
		Architect:        architect.New(llm),
		Builder:          builder.New(llm, vcs),
		Critic:           critic.New(llm),
		LaneManager:      laneManager,
		Logger:           logging.NewEventLogger(jobID),
		MemoryWriteback:  store,
		OnEvent: func(ev pipeline.Event) {
			fmt.Printf("[%s] %s (%s)\n", ev.Phase, ev.Type, ev.LaneID)
		},
	}

	scope := types.LaneScope{JobID: jobID, TaskID: "cli"}
	p := pipeline.New(deps, cfg.Pipeline, scope)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.PhaseTimeout*6)
	defer cancel()

	result, err := p.Run(ctx, request)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run error: %v\n", err)
	}
	if result != nil {
		fmt.Printf("\nrun %s: %s (attempts=%d)\n", result.RunID, result.Status, result.Attempts)
		if err := store.SaveRunResult(ctx, result.RunID, result); err != nil {
			fmt.Fprintf(os.Stderr, "save run result: %v\n", err)
		}
	}
	if err != nil {
		return err
	}
	if result.Status != pipeline.StatusPass {
		os.Exit(1)
	}
	return nil
}

func loadWorkspaceFiles(root string) (map[string]string, error) {
	files := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		b, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		files[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func toCategoryMap(in map[string]bool) map[logging.Category]bool {
	out := make(map[logging.Category]bool, len(in))
	for k, v := range in {
		out[logging.Category(k)] = v
	}
	return out
}

func levelFromString(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
