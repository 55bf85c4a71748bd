package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"planwright/internal/graph"
	"planwright/internal/orchestrator"
	"planwright/internal/plan"
	"planwright/internal/refine"
)

// resumeCmd continues a suspended run.
var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a suspended planning run",
	Long: `Rebuilds a suspended run from its checkpoint and continues it. The
suspended phase re-runs from its start, which regenerates the same pending
questions.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	pc, cleanup, err := buildPlanContext(cmd.Context(), "", args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	o, err := orchestrator.Restore(pc)
	if err != nil {
		return fmt.Errorf("failed to restore run %s: %w", args[0], err)
	}
	fmt.Printf("resuming run %s at phase %s\n", o.RunID(), o.Phase())
	return driveRun(cmd.Context(), o)
}

// statusCmd shows where a run stands.
var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the state of a planning run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	runID := args[0]
	pc, cleanup, err := buildPlanContext(cmd.Context(), "", runID)
	if err != nil {
		return err
	}
	defer cleanup()

	cp, err := pc.Store.LoadCheckpoint(runID)
	if err != nil {
		return fmt.Errorf("run %s has no checkpoint: %w", runID, err)
	}
	fmt.Printf("run:    %s\n", runID)
	fmt.Printf("phase:  %s\n", cp.Phase)
	fmt.Printf("state:  %s\n", cp.State)
	fmt.Printf("updated: %s\n", cp.Updated.Format("2006-01-02 15:04:05"))

	var outcome refine.Outcome
	if err := pc.Store.LoadJSON(runID, "refine_outcome", &outcome); err == nil {
		fmt.Printf("confidence: %d (track %s, %d iteration(s))\n",
			outcome.Score.Total, outcome.Track, outcome.Iterations)
	}

	latest, err := pc.Store.LatestAssessments(runID)
	if err != nil {
		return err
	}
	if len(latest) > 0 {
		counts := map[plan.Certainty]int{}
		for _, a := range latest {
			counts[a.Certainty]++
		}
		fmt.Printf("assessments: %d include, %d exclude, %d uncertain\n",
			counts[plan.CertainInclude], counts[plan.CertainExclude], counts[plan.Uncertain])
	}

	var g graph.Graph
	if err := pc.Store.LoadJSON(runID, "graph", &g); err == nil {
		fmt.Printf("graph: %d work items in %d layers\n", len(g.Items), len(g.Layers))
	}

	var tasks []plan.Task
	if err := pc.Store.LoadJSON(runID, "tasks", &tasks); err == nil {
		fmt.Printf("tasks: %d\n", len(tasks))
	}

	for _, phase := range []plan.Phase{
		plan.PhaseRefinement, plan.PhaseDiscovery, plan.PhaseResolution,
		plan.PhaseGraphing, plan.PhaseMaterialization,
	} {
		if n, err := pc.Store.PendingCount(runID, phase); err == nil && n > 0 {
			fmt.Printf("pending findings in %s: %d\n", phase, n)
		}
	}
	return nil
}
