// Package tasks materializes the validated work-item graph into executable
// tasks: one task per (work item, profile) pairing, with capabilities resolved
// from the skills catalog and steps restricted to literal paths or literal
// commands. Vague steps are rejected here, not downstream.
package tasks

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"planwright/internal/graph"
	"planwright/internal/logging"
	"planwright/internal/plan"
	"planwright/internal/skills"
)

// profileOrder fixes intra-item sequencing: tests follow implementation,
// verification follows both.
var profileOrder = []plan.Profile{
	plan.ProfileImplementation,
	plan.ProfileTesting,
	plan.ProfileVerification,
}

// Materializer converts a work-item graph into tasks.
type Materializer struct {
	runID   string
	catalog *skills.Catalog
	// verifyCommands are the literal commands every verification task runs.
	verifyCommands []string
}

// defaultVerifyCommands back verification tasks when no commands are
// configured, so every verification task carries runnable steps.
var defaultVerifyCommands = []string{"go build ./...", "go test ./..."}

// NewMaterializer creates a materializer. verifyCommands supplies the literal
// command list for verification tasks; empty falls back to the built-in
// defaults.
func NewMaterializer(runID string, catalog *skills.Catalog, verifyCommands []string) *Materializer {
	if len(verifyCommands) == 0 {
		verifyCommands = defaultVerifyCommands
	}
	return &Materializer{runID: runID, catalog: catalog, verifyCommands: verifyCommands}
}

// Materialize produces one task per (work item, profile), in layer order.
// Task dependencies combine intra-item profile sequencing with the graph's
// item-level edges.
func (m *Materializer) Materialize(g *graph.Graph) ([]plan.Task, error) {
	timer := logging.StartTimer(logging.CategoryTasks, "Materialize")
	defer timer.Stop()

	itemsByID := make(map[string]plan.WorkItem, len(g.Items))
	for _, item := range g.Items {
		itemsByID[item.ID] = item
	}

	// taskIDs[itemID][profile] -> task ID, filled layer by layer so
	// cross-item lookups always resolve.
	taskIDs := make(map[string]map[plan.Profile]string, len(g.Items))

	var out []plan.Task
	for _, layer := range g.Layers {
		for _, itemID := range layer {
			item := itemsByID[itemID]
			if len(item.Profiles) == 0 {
				return nil, &plan.CompletenessError{
					Step:   "materialization",
					Detail: fmt.Sprintf("work item %s declares no profiles", item.ID),
				}
			}
			taskIDs[item.ID] = make(map[plan.Profile]string, len(item.Profiles))

			for _, profile := range orderedProfiles(item.Profiles) {
				task, err := m.buildTask(item, profile, taskIDs)
				if err != nil {
					return nil, err
				}
				taskIDs[item.ID][profile] = task.ID
				out = append(out, task)

				logging.Emit(logging.AuditEvent{
					EventType: logging.AuditTaskCreated,
					RunID:     m.runID,
					Phase:     string(plan.PhaseMaterialization),
					Target:    task.ID,
					Success:   true,
					Message:   fmt.Sprintf("%s %s", item.ID, profile),
				})
			}
		}
	}

	logging.Get(logging.CategoryTasks).Info("materialized %d tasks from %d work items", len(out), len(g.Items))
	return out, nil
}

func (m *Materializer) buildTask(item plan.WorkItem, profile plan.Profile, taskIDs map[string]map[plan.Profile]string) (plan.Task, error) {
	context := item.Title + " " + strings.Join(item.AffectedCandidates, " ")
	caps, err := m.catalog.Resolve(m.runID, item.Module, profile, context)
	if err != nil {
		return plan.Task{}, err
	}

	steps, verification := m.stepsFor(item, profile)
	if err := ValidateSteps(profile, steps); err != nil {
		return plan.Task{}, err
	}

	return plan.Task{
		ID:           uuid.NewString(),
		WorkItemRef:  item.ID,
		Profile:      profile,
		Capabilities: caps,
		Steps:        steps,
		DependsOn:    m.dependsOn(item, profile, taskIDs),
		Verification: verification,
		Status:       plan.TaskPending,
	}, nil
}

// stepsFor derives the step list: implementation and testing tasks step
// through the item's affected candidate paths; verification tasks run the
// configured literal commands.
func (m *Materializer) stepsFor(item plan.WorkItem, profile plan.Profile) ([]string, plan.Verification) {
	if profile == plan.ProfileVerification {
		return m.verifyCommands, plan.Verification{
			Commands: m.verifyCommands,
			Criteria: "all commands exit zero",
		}
	}
	steps := append([]string{}, item.AffectedCandidates...)
	return steps, plan.Verification{Criteria: fmt.Sprintf("changes under %d path(s) reviewed", len(steps))}
}

// dependsOn collects task-level edges: earlier profiles of the same item, plus
// the implementation task of every item this one depends on.
func (m *Materializer) dependsOn(item plan.WorkItem, profile plan.Profile, taskIDs map[string]map[plan.Profile]string) []string {
	var deps []string
	for _, earlier := range profileOrder {
		if earlier == profile {
			break
		}
		if id, ok := taskIDs[item.ID][earlier]; ok {
			deps = append(deps, id)
		}
	}
	for _, depItem := range item.DependsOn {
		if id, ok := taskIDs[depItem][plan.ProfileImplementation]; ok {
			deps = append(deps, id)
		} else {
			for _, p := range profileOrder {
				if id, ok := taskIDs[depItem][p]; ok {
					deps = append(deps, id)
					break
				}
			}
		}
	}
	return deps
}

// orderedProfiles returns the item's profiles in canonical execution order,
// dropping duplicates.
func orderedProfiles(profiles []plan.Profile) []plan.Profile {
	have := make(map[plan.Profile]bool, len(profiles))
	for _, p := range profiles {
		have[p] = true
	}
	var out []plan.Profile
	for _, p := range profileOrder {
		if have[p] {
			out = append(out, p)
			delete(have, p)
		}
	}
	// Profiles outside the canonical set keep their declared order.
	for _, p := range profiles {
		if have[p] {
			out = append(out, p)
			delete(have, p)
		}
	}
	return out
}

// placeholderMarkers flag prose or template fragments that have no place in a
// literal step.
var placeholderMarkers = []string{"<", ">", "TBD", "TODO"}

// ValidateSteps enforces step shape: implementation and testing steps must be
// literal repository paths; verification steps must be literal commands.
// Violations are completeness errors that halt materialization.
func ValidateSteps(profile plan.Profile, steps []string) error {
	if len(steps) == 0 {
		return &plan.CompletenessError{
			Step:   "materialization",
			Detail: fmt.Sprintf("%s task has no steps", profile),
		}
	}
	for _, step := range steps {
		for _, marker := range placeholderMarkers {
			if strings.Contains(step, marker) {
				return &plan.CompletenessError{
					Step:   "materialization",
					Detail: fmt.Sprintf("step %q contains placeholder %q", step, marker),
				}
			}
		}
		if profile == plan.ProfileVerification {
			continue
		}
		if strings.ContainsAny(step, " \t*?") {
			return &plan.CompletenessError{
				Step:   "materialization",
				Detail: fmt.Sprintf("step %q is not a literal path", step),
			}
		}
	}
	return nil
}
