package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentforest/forest/internal/journal"
)

var normalizeInPlace bool

var normalizeCmd = &cobra.Command{
	Use:   "normalize <journal.json>",
	Short: "Rewrite a journal in the canonical bare-list form",
	Long: `Convert a journal from any accepted input shape (bare record list or
a {"nodes": [...]} wrapper) to the canonical bare-list JSON form.
Unknown record fields are preserved. Output goes to stdout unless
--in-place is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read journal: %v\n", err)
			os.Exit(1)
		}

		canonical, err := journal.Canonicalize(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if normalizeInPlace {
			if err := os.WriteFile(args[0], canonical, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		os.Stdout.Write(canonical)
	},
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeInPlace, "in-place", false, "rewrite the file instead of printing")
	rootCmd.AddCommand(normalizeCmd)
}
