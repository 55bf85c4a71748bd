package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"planwright/internal/orchestrator"
	"planwright/internal/perception"
	"planwright/internal/plan"
	"planwright/internal/store"
)

// buildPlanContext assembles everything a run needs from flags and config.
func buildPlanContext(ctx context.Context, requestText, runID string) (orchestrator.PlanContext, func(), error) {
	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	if !filepath.IsAbs(cfg.Skills.CatalogPath) {
		cfg.Skills.CatalogPath = filepath.Join(workspace, cfg.Skills.CatalogPath)
	}
	st, err := store.NewRunStore(dbPath)
	if err != nil {
		return orchestrator.PlanContext{}, nil, err
	}
	cleanup := func() { st.Close() }

	client, err := perception.NewClientFromConfig(ctx, cfg)
	if err != nil {
		cleanup()
		return orchestrator.PlanContext{}, nil, err
	}

	arch, err := loadArchitecture(workspace)
	if err != nil {
		cleanup()
		return orchestrator.PlanContext{}, nil, err
	}

	pc := orchestrator.PlanContext{
		RunID:     runID,
		Workspace: workspace,
		Config:    cfg,
		Arch:      arch,
		Store:     st,
		Client:    client,
	}
	if requestText != "" {
		pc.Request = &plan.Request{
			ID:        uuid.NewString(),
			Text:      requestText,
			CreatedAt: time.Now(),
		}
	}
	return pc, cleanup, nil
}

// loadArchitecture reads .planwright/architecture.yaml, or derives a minimal
// summary from the workspace's directory layout when the file is absent.
func loadArchitecture(ws string) (plan.ArchitectureSummary, error) {
	path := filepath.Join(ws, ".planwright", "architecture.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		var arch plan.ArchitectureSummary
		if err := yaml.Unmarshal(data, &arch); err != nil {
			return arch, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return arch, nil
	}
	if !os.IsNotExist(err) {
		return plan.ArchitectureSummary{}, err
	}

	// Fallback: top-level directories stand in for modules.
	var arch plan.ArchitectureSummary
	entries, err := os.ReadDir(ws)
	if err != nil {
		return arch, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && e.Name() != "vendor" && e.Name() != "node_modules" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		arch.Modules = append(arch.Modules, plan.ArchitectureModule{
			Name:    name,
			Purpose: "workspace directory " + name,
		})
	}
	return arch, nil
}

// askQuestions runs the interactive prompt loop for one batch of questions.
func askQuestions(questions []plan.Question) ([]plan.Answer, error) {
	reader := bufio.NewReader(os.Stdin)
	answers := make([]plan.Answer, 0, len(questions))

	for i, q := range questions {
		fmt.Printf("\n[%d/%d] %s\n", i+1, len(questions), q.Prompt)
		for _, ev := range q.Evidence {
			fmt.Printf("    evidence: %s\n", ev)
		}
		for j, opt := range q.Options {
			fmt.Printf("  %d) %s\n", j+1, opt)
		}

		value, err := readAnswer(reader, q)
		if err != nil {
			return nil, err
		}
		answers = append(answers, plan.Answer{QuestionID: q.ID, Selected: []string{value}})
	}
	return answers, nil
}

func readAnswer(reader *bufio.Reader, q plan.Question) (string, error) {
	for {
		if len(q.Options) > 0 {
			fmt.Printf("> choice [1-%d]: ", len(q.Options))
		} else {
			fmt.Print("> ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(q.Options) == 0 {
			return line, nil
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(q.Options) {
			return q.Options[n-1], nil
		}
		// Accept the option text itself too.
		for _, opt := range q.Options {
			if strings.EqualFold(opt, line) {
				return opt, nil
			}
		}
		fmt.Println("  invalid choice")
	}
}

// driveRun pumps the orchestrator, answering suspensions interactively, until
// the run completes or halts.
func driveRun(ctx context.Context, o *orchestrator.Orchestrator) error {
	status, err := o.Run(ctx)
	for err == nil {
		switch status {
		case orchestrator.StatusComplete:
			fmt.Printf("\nplan complete: run %s\n", o.RunID())
			return nil
		case orchestrator.StatusAwaitingClarification, orchestrator.StatusAwaitingResolution:
			fmt.Printf("\ninput needed (%s)\n", status)
			answers, askErr := askQuestions(o.Questions())
			if askErr != nil {
				return askErr
			}
			status, err = o.Resume(ctx, answers)
		default:
			return fmt.Errorf("run stopped in state %s", status)
		}
	}
	return err
}
