package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"planwright/internal/skills"
)

// initCmd seeds the workspace dotdir with default config and skills catalog.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .planwright/ in the workspace",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := filepath.Join(workspace, ".planwright")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	cfgFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := cfg.Save(cfgFile); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgFile)
	} else {
		fmt.Printf("%s already exists, leaving it alone\n", cfgFile)
	}

	catalogFile := filepath.Join(dir, "skills.yaml")
	if _, err := os.Stat(catalogFile); os.IsNotExist(err) {
		if err := skills.DefaultCatalog().Save(catalogFile); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", catalogFile)
	} else {
		fmt.Printf("%s already exists, leaving it alone\n", catalogFile)
	}

	fmt.Println("add .planwright/architecture.yaml to give refinement a real module map")
	return nil
}
