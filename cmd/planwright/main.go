package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"planwright/internal/config"
	"planwright/internal/logging"
	"planwright/internal/orchestrator"
)

var (
	// Global flags
	verbose   bool
	workspace string
	cfgPath   string

	// Loaded per invocation
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "planwright",
	Short: "planwright - plan orchestration engine",
	Long: `planwright turns a change request into a validated, executable plan.

The pipeline refines the request until a confidence threshold is met,
classifies every repository file through a three-way certainty gate,
resolves remaining uncertainty with the user, builds the dependency graph,
and materializes per-profile tasks. Structural plan checks are Datalog
rules evaluated by the Mangle kernel.

Exit codes: 0 success, 2 validation halt, 3 analysis backend unavailable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			if workspace, err = os.Getwd(); err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		if cfgPath == "" {
			cfgPath = filepath.Join(workspace, ".planwright", "config.yaml")
		}
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default: .planwright/config.yaml)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(findingsCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(orchestrator.ExitCode(err))
	}
}
