package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"planwright/internal/plan"
	"planwright/internal/refine"
)

// refineCmd scores and refines a request without running the rest of the
// pipeline. Useful for shaping a request before committing to a full run.
var refineCmd = &cobra.Command{
	Use:   "refine [request]",
	Short: "Score and refine a change request",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRefine,
}

func runRefine(cmd *cobra.Command, args []string) error {
	arch, err := loadArchitecture(workspace)
	if err != nil {
		return err
	}

	request := &plan.Request{
		ID:        uuid.NewString(),
		Text:      strings.Join(args, " "),
		CreatedAt: time.Now(),
	}
	loop := refine.NewLoop(uuid.NewString(), refine.NewScorer(arch), request,
		cfg.Refinement.Threshold, cfg.Refinement.MaxIterations)

	for {
		state, err := loop.Step()
		if err != nil {
			return err
		}
		if state != refine.StateAwaitingClarification {
			break
		}
		answers, err := askQuestions(loop.Questions())
		if err != nil {
			return err
		}
		if err := loop.Resume(answers); err != nil {
			return err
		}
	}

	outcome, err := loop.Outcome()
	if err != nil {
		return err
	}

	fmt.Printf("\nscore: %d (threshold %d, %d iteration(s))\n",
		outcome.Score.Total, cfg.Refinement.Threshold, outcome.Iterations)
	fmt.Printf("track: %s\n", outcome.Track)
	if len(outcome.Domains) > 0 {
		fmt.Printf("domains: %s\n", strings.Join(outcome.Domains, ", "))
	}
	if outcome.ManualReview {
		fmt.Println("note: iteration cap reached; the plan should be manually reviewed")
	}
	for _, f := range outcome.Findings {
		if f.Status == refine.StatusIssue {
			fmt.Printf("issue [%s]: %s\n", f.Dimension, strings.Join(f.Evidence, "; "))
		}
	}
	return nil
}
