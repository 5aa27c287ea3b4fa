// Command forest analyzes agent run journals: it rebuilds the run
// tree from flat records, then groups semantically equivalent sibling
// attempts using structural fingerprints and an LLM judge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	stateFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "forest",
	Short: "Detect redundant attempts in agent run journals",
	Long: `forest rebuilds the tree of attempts recorded in a run journal and
partitions each node's children into equivalence groups: attempts that
pursue the same approach are grouped together, structurally identical
attempts without any LLM cost, semantically equivalent ones via a
Claude judgment. Progress persists between runs, so re-running after a
failure never repeats work that already succeeded.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default forest.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&stateFlag, "state", "", "state database path (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
