package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"planwright/internal/orchestrator"
)

// planCmd runs the full pipeline for one request.
var planCmd = &cobra.Command{
	Use:   "plan [request]",
	Short: "Plan a change request end to end",
	Long: `Runs the full pipeline: refinement, discovery, uncertainty resolution,
dependency graphing, task materialization, and the quality gate. Suspends
for input whenever a phase needs a clarification or an uncertainty answer.

Example:
  planwright plan "Update the parser to accept YAML input. Scope is limited to parser code only."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	requestText := strings.Join(args, " ")

	pc, cleanup, err := buildPlanContext(cmd.Context(), requestText, "")
	if err != nil {
		return err
	}
	defer cleanup()

	o := orchestrator.New(pc)
	logger.Info("starting plan run",
		zap.String("run_id", o.RunID()),
		zap.String("workspace", workspace))

	if err := driveRun(cmd.Context(), o); err != nil {
		for _, f := range o.Findings() {
			logger.Warn("quality-gate finding",
				zap.String("phase", string(f.Phase)),
				zap.String("type", f.Type),
				zap.String("title", f.Title))
		}
		return err
	}
	return nil
}
