package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentforest/forest/internal/align"
	"github.com/agentforest/forest/internal/journal"
	"github.com/agentforest/forest/internal/oracle"
	"github.com/agentforest/forest/internal/oracle/claude"
)

var judgeOutput string

var judgeCmd = &cobra.Command{
	Use:   "judge <journal.json>",
	Short: "Judge whether each step's code change implements its plan",
	Long: `Walk the journal in step order, diff each step's code against the
previous step's, and ask Claude whether the change implements the
recorded plan. Verdicts persist in the state database, so re-running
only re-judges steps whose earlier calls failed.`,
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
		records, err := journal.Normalize(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		judge, err := claude.New(cfg.judgeConfig())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store, runID, err := analysisStore(ctx, cfg, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		engine, err := align.NewEngine(judge, store, cfg.alignConfig())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		res, err := engine.JudgeRecords(ctx, records)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		report := &align.Report{
			GeneratedAt: time.Now().UTC(),
			RunID:       runID,
			Judgments:   res.Judgments,
		}
		output := judgeOutput
		if output == "" {
			output = defaultJudgeOutput
		}
		if err := report.WriteFile(output); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printJudgeSummary(report, res.Stats, output)
	},
}

// printJudgeSummary renders the post-judging report to stdout.
func printJudgeSummary(report *align.Report, stats align.Stats, outputPath string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	counts := report.Counts()
	fmt.Printf("\n%s\n\n", cyan("=== Plan Alignment ==="))
	fmt.Printf("%d steps judged (%d reused from earlier runs, %d oracle calls)\n",
		len(report.Judgments), stats.Reused, stats.OracleCalls)
	fmt.Printf("  %s %d  %s %d  %s %d  %s %d\n",
		green("aligned:"), counts[oracle.AlignmentAligned],
		yellow("partial:"), counts[oracle.AlignmentPartial],
		red("deviated:"), counts[oracle.AlignmentDeviated],
		gray("skipped:"), counts[oracle.AlignmentSkipped])
	if n := counts[oracle.AlignmentError]; n > 0 {
		fmt.Printf("%s\n", red(fmt.Sprintf("%d steps failed (re-run to retry)", n)))
	}

	fmt.Printf("\n%s\n", gray("Report written to "+outputPath))
}

func init() {
	judgeCmd.Flags().StringVarP(&judgeOutput, "output", "o", "", "report path (default "+defaultJudgeOutput+")")
	rootCmd.AddCommand(judgeCmd)
}
