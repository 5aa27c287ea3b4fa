package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/agentforest/forest/internal/assemble"
)

// printSummary renders the post-analysis report to stdout.
func printSummary(art *assemble.Artifact, nodeCount int, outputPath string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Journal Analysis ==="))
	fmt.Printf("Tree: %d nodes, %d parents analyzed\n", nodeCount, len(art.Parents))

	redundant := art.RedundantGroups()
	if len(redundant) == 0 {
		fmt.Printf("%s\n", green("No redundant sibling attempts found"))
	} else {
		fmt.Printf("%s\n", yellow(fmt.Sprintf("Redundant attempts under %d parent(s):", len(redundant))))
		for _, p := range redundant {
			for _, g := range p.Groups {
				if len(g) < 2 {
					continue
				}
				fmt.Printf("  %s: %v\n", p.ParentID, g)
			}
		}
	}

	unresolvedTotal := 0
	for _, p := range art.Parents {
		unresolvedTotal += len(p.Unresolved)
	}
	if unresolvedTotal > 0 {
		fmt.Printf("%s\n", red(fmt.Sprintf("%d unresolved children (re-run to retry)", unresolvedTotal)))
	}

	fmt.Printf("\n%s\n", gray("Report written to "+outputPath))
}
