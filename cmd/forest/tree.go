package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentforest/forest/internal/journal"
	"github.com/agentforest/forest/internal/tree"
)

var treeCmd = &cobra.Command{
	Use:   "tree <journal.json>",
	Short: "Validate a journal and print its attempt tree",
	Long: `Rebuild and validate the attempt tree without any clustering or LLM
calls. Structural problems (dangling parents, cycles, wrong root
count) are all reported at once.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
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

		t, err := tree.Build(records)
		if err != nil {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s\n%v\n", red("Journal has structural errors:"), err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s %d records, root %s\n\n", green("Valid tree:"), len(records), t.Root)
		printNode(t, t.Root, 0, gray)
	},
}

func printNode(t *tree.Tree, id string, depth int, gray func(...interface{}) string) {
	node := t.Nodes[id]
	plan := node.Record.Plan
	if len(plan) > 60 {
		plan = plan[:57] + "..."
	}
	fmt.Printf("%s%s %s\n", strings.Repeat("  ", depth), id, gray(plan))
	for _, child := range node.Children {
		printNode(t, child, depth+1, gray)
	}
}

func init() {
	rootCmd.AddCommand(treeCmd)
}
