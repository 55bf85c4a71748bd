// Package orchestrator drives a planning run through its phases: refinement,
// discovery, resolution, graphing, materialization, and the final quality
// gate. The run is an explicit state machine; user interaction never blocks
// inside a phase. Instead the run suspends in a typed awaiting state, persists
// a checkpoint, and resumes when answers arrive - possibly in a different
// process.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"planwright/internal/config"
	"planwright/internal/discovery"
	"planwright/internal/graph"
	"planwright/internal/logging"
	"planwright/internal/perception"
	"planwright/internal/plan"
	"planwright/internal/qgate"
	"planwright/internal/refine"
	"planwright/internal/resolve"
	"planwright/internal/skills"
	"planwright/internal/store"
	"planwright/internal/tasks"
)

// Status is the run's externally visible state. The two awaiting states are
// the only suspension points; everything else either progresses or halts.
type Status string

const (
	StatusRunning               Status = "/running"
	StatusAwaitingClarification Status = "/awaiting_clarification"
	StatusAwaitingResolution    Status = "/awaiting_resolution"
	StatusComplete              Status = "/complete"
	StatusHalted                Status = "/halted"
)

// Process exit codes. Validation halts are deliberate refusals to emit a bad
// plan; backend unavailability is an environmental failure.
const (
	ExitOK                 = 0
	ExitError              = 1
	ExitValidationHalt     = 2
	ExitBackendUnavailable = 3
)

// ExitCode maps a run error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, plan.ErrBackendUnavailable):
		return ExitBackendUnavailable
	case plan.IsFatal(err):
		return ExitValidationHalt
	default:
		return ExitError
	}
}

// Artifact names persisted per run.
const (
	artifactRequest    = "request"
	artifactOutcome    = "refine_outcome"
	artifactCandidates = "candidates"
	artifactWorkItems  = "work_items"
	artifactGraph      = "graph"
	artifactTasks      = "tasks"
)

// PlanContext carries everything a run needs. It is assembled once by the CLI
// and passed whole; phases never reach for globals.
type PlanContext struct {
	RunID     string
	Workspace string
	Config    *config.Config
	Request   *plan.Request
	Arch      plan.ArchitectureSummary
	Store     *store.RunStore
	Client    perception.LLMClient
}

// Orchestrator is the run state machine.
type Orchestrator struct {
	pc       PlanContext
	verifier *qgate.Verifier
	handlers map[plan.Phase]func(context.Context) (Status, error)

	phase  plan.Phase
	status Status

	// Phase-local state, rebuilt on restore by re-running the owning phase.
	loop       *refine.Loop
	outcome    refine.Outcome
	candidates []plan.Candidate
	groups     []resolve.Group
	questions  []plan.Question
	findings   []plan.GateFinding
}

// New creates an orchestrator for a fresh run.
func New(pc PlanContext) *Orchestrator {
	if pc.RunID == "" {
		pc.RunID = uuid.NewString()
	}
	o := &Orchestrator{
		pc:       pc,
		verifier: qgate.NewVerifier(pc.RunID, pc.Store),
		phase:    plan.PhaseRefinement,
		status:   StatusRunning,
	}
	o.handlers = map[plan.Phase]func(context.Context) (Status, error){
		plan.PhaseRefinement:      o.runRefinement,
		plan.PhaseDiscovery:       o.runDiscovery,
		plan.PhaseResolution:      o.runResolution,
		plan.PhaseGraphing:        o.runGraphing,
		plan.PhaseMaterialization: o.runMaterialization,
	}
	return o
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string { return o.pc.RunID }

// Status returns the current run status.
func (o *Orchestrator) Status() Status { return o.status }

// Phase returns the current phase.
func (o *Orchestrator) Phase() plan.Phase { return o.phase }

// Questions returns the pending questions while suspended.
func (o *Orchestrator) Questions() []plan.Question { return o.questions }

// Findings returns quality-gate findings after a validation halt.
func (o *Orchestrator) Findings() []plan.GateFinding { return o.findings }

// Run advances the state machine until the run completes, suspends on a
// question, or halts on error. Safe to call again after Resume.
func (o *Orchestrator) Run(ctx context.Context) (Status, error) {
	if o.status == StatusComplete {
		return o.status, nil
	}
	logging.EmitSimple(logging.AuditRunStart, o.pc.RunID, string(o.phase))

	for {
		handler, ok := o.handlers[o.phase]
		if !ok {
			if o.phase == plan.PhaseComplete {
				o.status = StatusComplete
				logging.EmitSimple(logging.AuditRunComplete, o.pc.RunID, "plan materialized")
				o.checkpoint()
				return o.status, nil
			}
			return StatusHalted, fmt.Errorf("no handler for phase %s", o.phase)
		}

		logging.EmitSimple(logging.AuditPhaseEnter, o.pc.RunID, string(o.phase))
		status, err := handler(ctx)
		if err != nil {
			o.status = StatusHalted
			logging.EmitError(logging.AuditRunHalt, o.pc.RunID, err)
			o.checkpoint()
			return o.status, err
		}

		o.status = status
		o.checkpoint()
		if status != StatusRunning {
			// Suspended: hand control back to the caller.
			return status, nil
		}
		logging.EmitSimple(logging.AuditPhaseExit, o.pc.RunID, string(o.phase))
	}
}

// Resume feeds answers into whichever suspension point the run is parked at,
// then continues the run.
func (o *Orchestrator) Resume(ctx context.Context, answers []plan.Answer) (Status, error) {
	logging.EmitSimple(logging.AuditRunResume, o.pc.RunID, string(o.status))

	switch o.status {
	case StatusAwaitingClarification:
		if o.loop == nil {
			return StatusHalted, fmt.Errorf("no refinement loop to resume")
		}
		if err := o.loop.Resume(answers); err != nil {
			return StatusHalted, err
		}
	case StatusAwaitingResolution:
		resolved, err := resolve.Apply(o.pc.RunID, o.groups, answers)
		if err != nil {
			return StatusHalted, err
		}
		if err := o.pc.Store.AppendAssessments(o.pc.RunID, resolved); err != nil {
			return StatusHalted, err
		}
		o.groups = nil
	default:
		return o.status, fmt.Errorf("run is not suspended (status %s)", o.status)
	}

	o.questions = nil
	o.status = StatusRunning
	return o.Run(ctx)
}

// checkpoint persists the resumable state. Phase handlers are idempotent, so
// the checkpoint only needs the coordinates, not phase-local state.
func (o *Orchestrator) checkpoint() {
	payload, err := json.Marshal(map[string]string{
		"phase":  string(o.phase),
		"status": string(o.status),
	})
	if err != nil {
		return
	}
	if err := o.pc.Store.SaveCheckpoint(store.Checkpoint{
		RunID:   o.pc.RunID,
		Phase:   string(o.phase),
		State:   string(o.status),
		Payload: payload,
	}); err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("checkpoint failed: %v", err)
	}
	if o.pc.Request != nil {
		if err := o.pc.Store.PersistJSON(o.pc.RunID, artifactRequest, o.pc.Request); err != nil {
			logging.Get(logging.CategoryOrchestrator).Error("request persist failed: %v", err)
		}
	}
}

// Restore rebuilds an orchestrator for a previously suspended run. The stored
// request replaces pc.Request; the suspended phase re-runs from its start,
// which regenerates the same questions deterministically.
func Restore(pc PlanContext) (*Orchestrator, error) {
	cp, err := pc.Store.LoadCheckpoint(pc.RunID)
	if err != nil {
		return nil, err
	}

	var req plan.Request
	if err := pc.Store.LoadJSON(pc.RunID, artifactRequest, &req); err != nil {
		return nil, fmt.Errorf("failed to load request for run %s: %w", pc.RunID, err)
	}
	pc.Request = &req

	o := New(pc)
	o.phase = plan.Phase(cp.Phase)
	o.status = StatusRunning
	return o, nil
}

// --- Phase handlers -------------------------------------------------------

func (o *Orchestrator) runRefinement(ctx context.Context) (Status, error) {
	if err := o.verifier.RequireDrained(plan.PhaseRefinement); err != nil {
		return StatusHalted, err
	}

	if o.loop == nil {
		scorer := refine.NewScorer(o.pc.Arch)
		o.loop = refine.NewLoop(o.pc.RunID, scorer, o.pc.Request,
			o.pc.Config.Refinement.Threshold, o.pc.Config.Refinement.MaxIterations)
	}

	state, err := o.loop.Step()
	if err != nil {
		return StatusHalted, err
	}
	if state == refine.StateAwaitingClarification {
		o.questions = o.loop.Questions()
		return StatusAwaitingClarification, nil
	}

	outcome, err := o.loop.Outcome()
	if err != nil {
		return StatusHalted, err
	}
	o.outcome = outcome
	o.loop = nil
	if err := o.pc.Store.PersistJSON(o.pc.RunID, artifactOutcome, outcome); err != nil {
		return StatusHalted, err
	}

	logging.Get(logging.CategoryOrchestrator).Info("refinement done: score %d, track %s, manual_review=%v",
		outcome.Score.Total, outcome.Track, outcome.ManualReview)
	o.phase = plan.PhaseDiscovery
	return StatusRunning, nil
}

func (o *Orchestrator) runDiscovery(ctx context.Context) (Status, error) {
	if err := o.verifier.RequireDrained(plan.PhaseDiscovery); err != nil {
		return StatusHalted, err
	}
	if o.outcome.Iterations == 0 {
		if err := o.pc.Store.LoadJSON(o.pc.RunID, artifactOutcome, &o.outcome); err != nil {
			return StatusHalted, fmt.Errorf("refinement outcome missing: %w", err)
		}
	}

	candidates, err := discovery.Scan(o.pc.Workspace)
	if err != nil {
		return StatusHalted, fmt.Errorf("inventory scan failed: %w", err)
	}

	// The simple track narrows the inventory to the explicitly mapped
	// domains before analysis; the complex track analyzes everything.
	if o.outcome.Track == plan.TrackSimple {
		candidates = discovery.Filter(candidates, o.outcome.Domains)
	}
	if len(candidates) == 0 {
		return StatusHalted, &plan.ScopeError{
			Step:        "discovery",
			Detail:      "no candidates to analyze",
			Remediation: "check the workspace path and the request's module references",
		}
	}
	o.candidates = candidates
	if err := o.pc.Store.PersistJSON(o.pc.RunID, artifactCandidates, candidates); err != nil {
		return StatusHalted, err
	}

	analyzer := discovery.NewAnalyzer(o.pc.RunID, o.pc.Client, o.pc.Config.Discovery.MaxParallel)
	bundles := discovery.Bundle(candidates, o.pc.Config.Discovery.BundleSize)
	assessments, err := analyzer.Analyze(ctx, o.pc.Request.EffectiveText(), bundles)
	if err != nil {
		return StatusHalted, err
	}
	if err := o.pc.Store.AppendAssessments(o.pc.RunID, assessments); err != nil {
		return StatusHalted, err
	}

	o.phase = plan.PhaseResolution
	return StatusRunning, nil
}

func (o *Orchestrator) runResolution(ctx context.Context) (Status, error) {
	if err := o.verifier.RequireDrained(plan.PhaseResolution); err != nil {
		return StatusHalted, err
	}

	latest, err := o.pc.Store.LatestAssessments(o.pc.RunID)
	if err != nil {
		return StatusHalted, err
	}

	groups := resolve.ClusterUncertain(latest)
	if len(groups) > 0 {
		o.groups = groups
		o.questions = resolve.Questions(o.pc.RunID, groups)
		return StatusAwaitingResolution, nil
	}

	if err := resolve.Validate(latest); err != nil {
		return StatusHalted, err
	}
	o.phase = plan.PhaseGraphing
	return StatusRunning, nil
}

func (o *Orchestrator) runGraphing(ctx context.Context) (Status, error) {
	if err := o.verifier.RequireDrained(plan.PhaseGraphing); err != nil {
		return StatusHalted, err
	}

	latest, err := o.pc.Store.LatestAssessments(o.pc.RunID)
	if err != nil {
		return StatusHalted, err
	}
	if err := resolve.Validate(latest); err != nil {
		return StatusHalted, err
	}

	items := buildWorkItems(o.pc.Request, o.pc.Arch, latest)
	if len(items) == 0 {
		return StatusHalted, &plan.ScopeError{
			Step:        "graphing",
			Detail:      "no work items: nothing was classified as in scope",
			Remediation: "review the request or re-run discovery with a broader filter",
		}
	}
	if err := o.pc.Store.PersistJSON(o.pc.RunID, artifactWorkItems, items); err != nil {
		return StatusHalted, err
	}

	g, err := graph.Build(items)
	if err != nil {
		return StatusHalted, err
	}
	if err := o.pc.Store.PersistJSON(o.pc.RunID, artifactGraph, g); err != nil {
		return StatusHalted, err
	}

	o.phase = plan.PhaseMaterialization
	return StatusRunning, nil
}

func (o *Orchestrator) runMaterialization(ctx context.Context) (Status, error) {
	if err := o.verifier.RequireDrained(plan.PhaseMaterialization); err != nil {
		return StatusHalted, err
	}

	var g graph.Graph
	if err := o.pc.Store.LoadJSON(o.pc.RunID, artifactGraph, &g); err != nil {
		return StatusHalted, err
	}

	catalog, err := skills.LoadCatalog(o.pc.Config.Skills.CatalogPath)
	if err != nil {
		return StatusHalted, err
	}

	materializer := tasks.NewMaterializer(o.pc.RunID, catalog, o.pc.Config.Verification.Commands)
	taskList, err := materializer.Materialize(&g)
	if err != nil {
		return StatusHalted, err
	}
	if err := o.pc.Store.PersistJSON(o.pc.RunID, artifactTasks, taskList); err != nil {
		return StatusHalted, err
	}

	latest, err := o.pc.Store.LatestAssessments(o.pc.RunID)
	if err != nil {
		return StatusHalted, err
	}

	if len(o.candidates) == 0 {
		// Restored run: the in-memory inventory is gone, reload it.
		if err := o.pc.Store.LoadJSON(o.pc.RunID, artifactCandidates, &o.candidates); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("candidate inventory unavailable: %v", err)
		}
	}

	findings, err := o.verifier.Verify(qgate.Snapshot{
		Items:          g.Items,
		Tasks:          taskList,
		Assessments:    latest,
		CandidateTotal: len(o.candidates),
	})
	if err != nil {
		return StatusHalted, err
	}
	if len(findings) > 0 {
		o.findings = findings
		for _, f := range findings {
			logging.EmitSimple(logging.AuditPhaseReopen, o.pc.RunID, string(f.Phase))
		}
		return StatusHalted, &plan.CompletenessError{
			Step:   "qgate",
			Detail: fmt.Sprintf("%d checklist findings recorded; resolve them and re-plan", len(findings)),
		}
	}

	o.phase = plan.PhaseComplete
	return StatusRunning, nil
}

// workItemKey groups certain-include assessments: one work item per
// (originating bundle, assessed change kind).
type workItemKey struct {
	bundle string
	kind   plan.ChangeKind
}

// buildWorkItems aggregates certain-include assessments into work items, one
// per (bundle, change kind), carrying all three execution profiles. Item-level
// dependencies come from the dependency paths the analyzer reported per
// assessment, mapped to the items owning those paths.
func buildWorkItems(request *plan.Request, arch plan.ArchitectureSummary, latest []plan.Assessment) []plan.WorkItem {
	byKey := make(map[workItemKey][]plan.Assessment)
	kindsPerBundle := make(map[string]map[plan.ChangeKind]bool)
	var order []workItemKey
	for _, a := range latest {
		if a.Certainty != plan.CertainInclude {
			continue
		}
		kind := a.ChangeKind
		if kind == "" {
			kind = plan.ChangeModify
		}
		key := workItemKey{bundle: a.Bundle, kind: kind}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], a)
		if kindsPerBundle[a.Bundle] == nil {
			kindsPerBundle[a.Bundle] = make(map[plan.ChangeKind]bool)
		}
		kindsPerBundle[a.Bundle][kind] = true
	}

	title := request.Text
	if idx := strings.IndexAny(title, ".\n"); idx > 0 {
		title = title[:idx]
	}

	itemByPath := make(map[string]string)
	items := make([]plan.WorkItem, 0, len(order))
	for _, key := range order {
		group := byKey[key]
		paths := make([]string, len(group))
		for i, a := range group {
			paths[i] = a.Path
		}
		id := "wi-" + key.bundle
		if len(kindsPerBundle[key.bundle]) > 1 {
			id += "-" + strings.TrimPrefix(string(key.kind), "/")
		}
		for _, p := range paths {
			itemByPath[p] = id
		}
		items = append(items, plan.WorkItem{
			ID:                 id,
			Title:              fmt.Sprintf("%s (%d files)", title, len(paths)),
			Module:             moduleFor(paths, arch),
			ChangeKind:         key.kind,
			AffectedCandidates: paths,
			Profiles: []plan.Profile{
				plan.ProfileImplementation,
				plan.ProfileTesting,
				plan.ProfileVerification,
			},
			Bundle: key.bundle,
		})
	}

	// Second pass: map assessed dependency paths onto item edges.
	for i := range items {
		deps := make(map[string]bool)
		for _, a := range byKey[workItemKey{bundle: items[i].Bundle, kind: items[i].ChangeKind}] {
			for _, depPath := range a.DependsOn {
				depID, ok := itemByPath[depPath]
				if ok && depID != items[i].ID {
					deps[depID] = true
				}
			}
		}
		if len(deps) > 0 {
			out := make([]string, 0, len(deps))
			for id := range deps {
				out = append(out, id)
			}
			sort.Strings(out)
			items[i].DependsOn = out
		}
	}
	return items
}

// moduleFor names the architecture module owning a path group: the first
// declared module whose name occurs in any of the paths, else the top
// directory of the first path.
func moduleFor(paths []string, arch plan.ArchitectureSummary) string {
	for _, m := range arch.Modules {
		name := strings.ToLower(m.Name)
		for _, p := range paths {
			if strings.Contains(strings.ToLower(p), name) {
				return m.Name
			}
		}
	}
	if len(paths) == 0 {
		return ""
	}
	if idx := strings.Index(paths[0], "/"); idx > 0 {
		return paths[0][:idx]
	}
	return paths[0]
}
