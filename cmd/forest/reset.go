package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentforest/forest/internal/state"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all persisted analysis state",
	Long: `Delete every resolved group and unresolved record from the state
database. The next analyze run starts from scratch, repeating every
LLM call. Requires --force.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if !resetForce {
			fmt.Fprintln(os.Stderr, "Refusing to clear analysis state without --force")
			os.Exit(1)
		}

		store, err := state.Open(cfg.statePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open state db: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := store.Reset(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s\n", green("Cleared analysis state in"), cfg.statePath())
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "confirm clearing all state")
	rootCmd.AddCommand(resetCmd)
}
