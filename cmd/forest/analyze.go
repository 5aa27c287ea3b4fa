package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentforest/forest/internal/cluster"
	"github.com/agentforest/forest/internal/fingerprint"
	"github.com/agentforest/forest/internal/oracle"
	"github.com/agentforest/forest/internal/oracle/claude"
	"github.com/agentforest/forest/internal/runner"
	"github.com/agentforest/forest/internal/state"
)

var (
	analyzeOutput string
	analyzeDryRun bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <journal.json>",
	Short: "Group equivalent sibling attempts in a run journal",
	Long: `Rebuild the run tree from the journal and partition each parent's
children into equivalence groups. Identical structure is grouped for
free; the rest is judged by Claude. Progress is persisted, so an
interrupted or rate-limited run picks up where it left off.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read journal: %v\n", err)
			os.Exit(1)
		}

		clusterCfg, err := cfg.clusterConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var judge oracle.Judge
		if analyzeDryRun {
			// All-distinct verdicts: fingerprint groups only
			judge = &oracle.Stub{}
		} else {
			judge, err = claude.New(cfg.judgeConfig())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		store, runID, err := analysisStore(ctx, cfg, analyzeDryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		engine, err := cluster.NewEngine(judge, store, fingerprint.New(), clusterCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		pipeline := &runner.Pipeline{
			Engine:  engine,
			Workers: cfg.workerCount(),
			RunID:   runID,
		}

		artifact, tr, err := pipeline.Analyze(ctx, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		output := cfg.outputPath(analyzeOutput)
		if err := artifact.WriteFile(output); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printSummary(artifact, len(tr.Nodes), output)
	},
}

// analysisStore picks the state store for an analyze run. A dry run
// stays in memory: stub verdicts must never be persisted, or children
// the real oracle has not seen would be frozen as singleton groups.
func analysisStore(ctx context.Context, cfg fileConfig, dryRun bool) (state.Store, string, error) {
	if dryRun {
		return state.NewMemory(), "dry-run", nil
	}
	db, err := state.Open(cfg.statePath())
	if err != nil {
		return nil, "", fmt.Errorf("failed to open state db: %w", err)
	}
	runID, err := db.BeginRun(ctx)
	if err != nil {
		db.Close()
		return nil, "", err
	}
	return db, runID, nil
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "report path (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "skip LLM calls; group by structural fingerprint only")
	rootCmd.AddCommand(analyzeCmd)
}
