package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"planwright/internal/discovery"
	"planwright/internal/plan"
)

var analyzeFilter []string

// analyzeCmd runs discovery standalone: scan the workspace, classify every
// candidate against the request, and print the gate counts. Nothing is
// persisted; use `plan` for a full run.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [request]",
	Short: "Classify the workspace inventory against a request",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeFilter, "filter", nil, "path substrings to narrow the inventory")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	requestText := strings.Join(args, " ")

	pc, cleanup, err := buildPlanContext(cmd.Context(), requestText, uuid.NewString())
	if err != nil {
		return err
	}
	defer cleanup()

	candidates, err := discovery.Scan(workspace)
	if err != nil {
		return err
	}
	candidates = discovery.Filter(candidates, analyzeFilter)
	if len(candidates) == 0 {
		return fmt.Errorf("no candidates to analyze in %s", workspace)
	}
	fmt.Printf("analyzing %d candidates\n", len(candidates))

	analyzer := discovery.NewAnalyzer(pc.RunID, pc.Client, cfg.Discovery.MaxParallel)
	bundles := discovery.Bundle(candidates, cfg.Discovery.BundleSize)
	assessments, err := analyzer.Analyze(cmd.Context(), requestText, bundles)
	if err != nil {
		return err
	}

	counts := map[plan.Certainty]int{}
	for _, a := range assessments {
		counts[a.Certainty]++
	}
	fmt.Printf("\ngates: %d include, %d exclude, %d uncertain\n",
		counts[plan.CertainInclude], counts[plan.CertainExclude], counts[plan.Uncertain])

	for _, a := range assessments {
		if a.Certainty == plan.Uncertain {
			fmt.Printf("  uncertain: %s (%d) %s\n", a.Path, a.Confidence, a.Reasoning)
		}
	}
	return nil
}
