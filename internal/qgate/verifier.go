// Package qgate runs the quality-gate checklist over a completed plan. The
// relational checks (cycles, orphans, missing tasks, unresolved uncertainty)
// are Datalog rules evaluated by the kernel; aggregate count checks run in Go.
// Violations become findings recorded as /pending against the phase that owns
// the fix, and a phase may not be re-entered as clean until its findings are
// drained.
package qgate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"planwright/internal/kernel"
	"planwright/internal/logging"
	"planwright/internal/plan"
	"planwright/internal/store"
)

const checklistSchema = `
Decl work_item(Item).
Decl item_dep(Item, Dep).
Decl item_profile(Item, Profile).
Decl task_for(Item, Profile).
Decl assessment_state(Ref, Path, State).

Decl reaches(A, B).
Decl cycle_item(A).
Decl item_has_task(Item).
Decl orphan_item(Item).
Decl missing_task(Item, Profile).
Decl unresolved_assessment(Ref, Path).

reaches(A, B) :- item_dep(A, B).
reaches(A, C) :- item_dep(A, B), reaches(B, C).
cycle_item(A) :- reaches(A, A).
item_has_task(I) :- task_for(I, _).
orphan_item(I) :- work_item(I), !item_has_task(I).
missing_task(I, P) :- item_profile(I, P), !task_for(I, P).
unresolved_assessment(Ref, Path) :- assessment_state(Ref, Path, /uncertain).
`

// Snapshot is the plan state the checklist evaluates.
type Snapshot struct {
	Items          []plan.WorkItem
	Tasks          []plan.Task
	Assessments    []plan.Assessment // Latest-effective set
	CandidateTotal int
}

// Verifier evaluates the checklist and manages the finding lifecycle.
type Verifier struct {
	runID string
	store *store.RunStore
}

// NewVerifier creates a verifier writing findings to the run store.
func NewVerifier(runID string, st *store.RunStore) *Verifier {
	return &Verifier{runID: runID, store: st}
}

// Verify runs the full checklist. All violations found are recorded as pending
// findings before returning; an empty result means the plan passed.
func (v *Verifier) Verify(snapshot Snapshot) ([]plan.GateFinding, error) {
	timer := logging.StartTimer(logging.CategoryQGate, "Verify")
	defer timer.Stop()

	findings, err := v.ruleFindings(snapshot)
	if err != nil {
		return nil, err
	}
	findings = append(findings, v.countFindings(snapshot)...)

	if len(findings) > 0 {
		if err := v.store.RecordFindings(v.runID, findings); err != nil {
			return nil, fmt.Errorf("failed to record findings: %w", err)
		}
		for _, f := range findings {
			logging.Emit(logging.AuditEvent{
				EventType: logging.AuditFindingRecorded,
				RunID:     v.runID,
				Phase:     string(f.Phase),
				Target:    f.ID,
				Success:   true,
				Message:   f.Title,
			})
		}
	}
	logging.QGate("checklist complete: %d findings", len(findings))
	return findings, nil
}

// ruleFindings asserts the plan as facts and reads back rule violations.
func (v *Verifier) ruleFindings(snapshot Snapshot) ([]plan.GateFinding, error) {
	engine := kernel.NewEngine()
	if err := engine.LoadSchemaString(checklistSchema); err != nil {
		return nil, fmt.Errorf("failed to load checklist rules: %w", err)
	}

	var facts []kernel.Fact
	for _, item := range snapshot.Items {
		facts = append(facts, kernel.Fact{Predicate: "work_item", Args: []interface{}{item.ID}})
		for _, dep := range item.DependsOn {
			facts = append(facts, kernel.Fact{Predicate: "item_dep", Args: []interface{}{item.ID, dep}})
		}
		for _, profile := range item.Profiles {
			facts = append(facts, kernel.Fact{Predicate: "item_profile", Args: []interface{}{item.ID, string(profile)}})
		}
	}
	for _, task := range snapshot.Tasks {
		facts = append(facts, kernel.Fact{Predicate: "task_for", Args: []interface{}{task.WorkItemRef, string(task.Profile)}})
	}
	for _, a := range snapshot.Assessments {
		facts = append(facts, kernel.Fact{Predicate: "assessment_state", Args: []interface{}{a.CandidateRef, a.Path, string(a.Certainty)}})
	}

	if err := engine.Assert(facts...); err != nil {
		return nil, fmt.Errorf("failed to assert plan facts: %w", err)
	}
	logging.EmitSimple(logging.AuditKernelAssert, v.runID, fmt.Sprintf("%d plan facts", len(facts)))
	if err := engine.Evaluate(); err != nil {
		return nil, fmt.Errorf("checklist evaluation failed: %w", err)
	}

	now := time.Now()
	var findings []plan.GateFinding

	collect := func(predicate string, build func(args []interface{}) plan.GateFinding) error {
		results, err := engine.Facts(predicate)
		if err != nil {
			return err
		}
		logging.EmitSimple(logging.AuditKernelQuery, v.runID, fmt.Sprintf("%s: %d", predicate, len(results)))
		for _, r := range results {
			f := build(r.Args)
			f.ID = uuid.NewString()
			f.Source = predicate
			f.Resolution = plan.ResolutionPending
			f.CreatedAt = now
			findings = append(findings, f)
		}
		return nil
	}

	if err := collect("cycle_item", func(args []interface{}) plan.GateFinding {
		return plan.GateFinding{
			Phase: plan.PhaseGraphing, Type: "/cycle",
			Title: fmt.Sprintf("work item %v participates in a dependency cycle", args[0]),
		}
	}); err != nil {
		return nil, err
	}
	if err := collect("orphan_item", func(args []interface{}) plan.GateFinding {
		return plan.GateFinding{
			Phase: plan.PhaseMaterialization, Type: "/orphan_item",
			Title: fmt.Sprintf("work item %v has no tasks", args[0]),
		}
	}); err != nil {
		return nil, err
	}
	if err := collect("missing_task", func(args []interface{}) plan.GateFinding {
		return plan.GateFinding{
			Phase: plan.PhaseMaterialization, Type: "/missing_task",
			Title: fmt.Sprintf("work item %v has no %v task", args[0], args[1]),
		}
	}); err != nil {
		return nil, err
	}
	if err := collect("unresolved_assessment", func(args []interface{}) plan.GateFinding {
		return plan.GateFinding{
			Phase: plan.PhaseResolution, Type: "/unresolved_uncertain",
			Title: fmt.Sprintf("assessment for %v is still uncertain", args[1]),
		}
	}); err != nil {
		return nil, err
	}
	return findings, nil
}

// countFindings covers the aggregate invariants Datalog is the wrong tool for:
// assessment totals and (item, profile) task multiplicity.
func (v *Verifier) countFindings(snapshot Snapshot) []plan.GateFinding {
	now := time.Now()
	var findings []plan.GateFinding

	if snapshot.CandidateTotal > 0 && len(snapshot.Assessments) != snapshot.CandidateTotal {
		findings = append(findings, plan.GateFinding{
			ID: uuid.NewString(), Phase: plan.PhaseDiscovery, Source: "counts",
			Type:  "/count_mismatch",
			Title: fmt.Sprintf("%d candidates but %d effective assessments", snapshot.CandidateTotal, len(snapshot.Assessments)),
			Resolution: plan.ResolutionPending, CreatedAt: now,
		})
	}

	pairs := make(map[string]int, len(snapshot.Tasks))
	for _, task := range snapshot.Tasks {
		pairs[task.WorkItemRef+" "+string(task.Profile)]++
	}
	for pair, n := range pairs {
		if n > 1 {
			findings = append(findings, plan.GateFinding{
				ID: uuid.NewString(), Phase: plan.PhaseMaterialization, Source: "counts",
				Type:  "/duplicate_task",
				Title: fmt.Sprintf("pairing %s materialized %d times", pair, n),
				Resolution: plan.ResolutionPending, CreatedAt: now,
			})
		}
	}
	return findings
}

// Pending returns the unresolved findings a phase must drain before it can be
// considered clean again.
func (v *Verifier) Pending(phase plan.Phase) ([]plan.GateFinding, error) {
	return v.store.QueryFindings(v.runID, phase, plan.ResolutionPending)
}

// RequireDrained errors when the phase still has pending findings. Called on
// phase re-entry: the phase must address its findings before redoing work.
func (v *Verifier) RequireDrained(phase plan.Phase) error {
	n, err := v.store.PendingCount(v.runID, phase)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("phase %s has %d unresolved findings", phase, n)
	}
	return nil
}

// Resolve flips one finding to taken-into-account with a note describing how
// it was addressed.
func (v *Verifier) Resolve(findingID, note string) error {
	if err := v.store.ResolveFinding(findingID, note); err != nil {
		return err
	}
	logging.Emit(logging.AuditEvent{
		EventType: logging.AuditFindingResolved,
		RunID:     v.runID,
		Target:    findingID,
		Success:   true,
		Message:   note,
	})
	return nil
}
