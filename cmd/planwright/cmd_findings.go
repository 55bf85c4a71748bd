package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"planwright/internal/plan"
	"planwright/internal/qgate"
)

var findingsPhase string

// findingsCmd inspects and resolves quality-gate findings.
var findingsCmd = &cobra.Command{
	Use:   "findings [run-id]",
	Short: "List pending quality-gate findings for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runFindings,
}

// resolveFindingCmd flips one finding to taken-into-account.
var resolveFindingCmd = &cobra.Command{
	Use:   "resolve [run-id] [finding-id] [note]",
	Short: "Mark a finding as taken into account",
	Args:  cobra.ExactArgs(3),
	RunE:  runResolveFinding,
}

func init() {
	findingsCmd.Flags().StringVar(&findingsPhase, "phase", "", "filter by phase (e.g. /graphing)")
	findingsCmd.AddCommand(resolveFindingCmd)
}

func runFindings(cmd *cobra.Command, args []string) error {
	runID := args[0]
	pc, cleanup, err := buildPlanContext(cmd.Context(), "", runID)
	if err != nil {
		return err
	}
	defer cleanup()

	phases := []plan.Phase{
		plan.PhaseRefinement, plan.PhaseDiscovery, plan.PhaseResolution,
		plan.PhaseGraphing, plan.PhaseMaterialization,
	}
	if findingsPhase != "" {
		phases = []plan.Phase{plan.Phase(findingsPhase)}
	}

	total := 0
	for _, phase := range phases {
		findings, err := pc.Store.QueryFindings(runID, phase, plan.ResolutionPending)
		if err != nil {
			return err
		}
		for _, f := range findings {
			total++
			fmt.Printf("%s  %-14s %-22s %s\n", f.ID, f.Phase, f.Type, f.Title)
		}
	}
	if total == 0 {
		fmt.Println("no pending findings")
	}
	return nil
}

func runResolveFinding(cmd *cobra.Command, args []string) error {
	runID, findingID, note := args[0], args[1], args[2]
	pc, cleanup, err := buildPlanContext(cmd.Context(), "", runID)
	if err != nil {
		return err
	}
	defer cleanup()

	verifier := qgate.NewVerifier(runID, pc.Store)
	if err := verifier.Resolve(findingID, note); err != nil {
		return err
	}
	fmt.Printf("finding %s resolved\n", findingID)
	return nil
}
