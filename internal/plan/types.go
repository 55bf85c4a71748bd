// Package plan defines the shared data model for a planning run: the request
// under refinement, candidate inventory, the append-only assessment log, approved
// work items, and the materialized task graph.
//
// The model follows two rules enforced throughout the engine:
//   - Historical records are never mutated. Clarifications are appended to the
//     request; assessments are superseded by new assessments linked via
//     ResolvedFrom; Q-Gate findings flip a resolution field but are never deleted.
//   - All cross-phase state hangs off one Run aggregate passed explicitly to each
//     phase. There are no package-level singletons.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Certainty is the three-way classification gate for a candidate.
type Certainty string

const (
	CertainInclude Certainty = "/certain_include" // Must change to satisfy the request
	CertainExclude Certainty = "/certain_exclude" // Confidently untouched by the request
	Uncertain      Certainty = "/uncertain"       // Needs user resolution
)

// GateThreshold is the confidence floor for a certain classification.
// Below it every assessment lands in /uncertain regardless of match direction.
const GateThreshold = 80

// ResolvedConfidence is the confidence assigned to assessments produced by the
// uncertainty resolver from a user answer.
const ResolvedConfidence = 85

// Track routes downstream phases after refinement.
type Track string

const (
	TrackSimple  Track = "/simple"  // Explicit mapping, no discovery pass needed
	TrackComplex Track = "/complex" // Scope words or mandated discovery
)

// Profile is an execution-role tag used to select capability sets and to
// partition tasks.
type Profile string

const (
	ProfileImplementation Profile = "/implementation"
	ProfileTesting        Profile = "/testing"
	ProfileVerification   Profile = "/verification"
)

// ChangeKind describes what a work item does to its candidates.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "/create"
	ChangeModify ChangeKind = "/modify"
	ChangeDelete ChangeKind = "/delete"
	ChangeConfig ChangeKind = "/config"
)

// Phase identifies one stage of the pipeline. Q-Gate findings are keyed by the
// phase that must drain them on re-entry.
type Phase string

const (
	PhaseRefinement      Phase = "/refinement"
	PhaseDiscovery       Phase = "/discovery"
	PhaseResolution      Phase = "/resolution"
	PhaseGraphing        Phase = "/graphing"
	PhaseMaterialization Phase = "/materialization"
	PhaseComplete        Phase = "/complete"
)

// TaskStatus is the only mutable field on a Task after creation. It is owned by
// downstream execution, which is outside this engine.
type TaskStatus string

const (
	TaskPending    TaskStatus = "/pending"
	TaskInProgress TaskStatus = "/in_progress"
	TaskCompleted  TaskStatus = "/completed"
	TaskFailed     TaskStatus = "/failed"
)

// Clarification is one answered question appended to a request.
type Clarification struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Request is the immutable change request plus its clarification history.
// Text never changes after creation; Clarifications and Clarified are the only
// fields a refinement iteration may touch, and only by appending.
type Request struct {
	ID             string          `json:"id"`
	Text           string          `json:"text"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
	Clarified      string          `json:"clarified,omitempty"` // Synthesized restatement
	CreatedAt      time.Time       `json:"created_at"`
}

// Append records an answered clarification. The original text is untouched.
func (r *Request) Append(question, answer string) {
	r.Clarifications = append(r.Clarifications, Clarification{
		Question: question,
		Answer:   answer,
		AskedAt:  time.Now(),
	})
}

// EffectiveText returns the request text plus all clarification answers, which
// is what every downstream semantic step evaluates against.
func (r *Request) EffectiveText() string {
	text := r.Text
	if r.Clarified != "" {
		text = r.Clarified
	}
	for _, c := range r.Clarifications {
		text += "\n[clarified] " + c.Question + " -> " + c.Answer
	}
	return text
}

// Candidate is one analyzable unit from the inventory scan. Read-only after
// the scan produces it. Excerpt carries the head of the file so classification
// can cite content, not just the path; Ref ignores it.
type Candidate struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"` // source, test, config, doc, schema, ...
	Excerpt string `json:"excerpt,omitempty"`
}

// Ref returns the content-derived identifier keying the assessment log.
func (c Candidate) Ref() string {
	sum := sha256.Sum256([]byte(c.Kind + ":" + c.Path))
	return hex.EncodeToString(sum[:8])
}

// Assessment is one append-only classification record for a candidate.
// A resolution never overwrites an uncertain assessment; it creates a new
// record with ResolvedFrom pointing at the superseded one.
type Assessment struct {
	ID           string     `json:"id"`
	CandidateRef string     `json:"candidate_ref"`
	Path         string     `json:"path"`
	Bundle       string     `json:"bundle"` // Originating partition
	Certainty    Certainty  `json:"certainty"`
	Confidence   int        `json:"confidence"` // 0-100
	ChangeKind   ChangeKind `json:"change_kind,omitempty"`
	DependsOn    []string   `json:"depends_on,omitempty"` // Candidate paths that must change first
	Reasoning    string     `json:"reasoning"`
	Evidence     string     `json:"evidence"`
	ResolvedFrom string     `json:"resolved_from,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Gate assigns the certainty classification from a confidence and match
// direction. This is the one place the 80-point threshold is applied.
func Gate(confidence int, matches bool) Certainty {
	if confidence >= GateThreshold {
		if matches {
			return CertainInclude
		}
		return CertainExclude
	}
	return Uncertain
}

// WorkItem is a unit of approved scope aggregated from certain-include
// assessments, grouped by originating bundle.
type WorkItem struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Module             string     `json:"module,omitempty"` // Architecture module owning the change
	ChangeKind         ChangeKind `json:"change_kind"`
	AffectedCandidates []string   `json:"affected_candidates"`  // Paths
	DependsOn          []string   `json:"depends_on,omitempty"` // WorkItem IDs
	Profiles           []Profile  `json:"profiles"`
	Bundle             string     `json:"bundle,omitempty"`
}

// Verification carries the literal commands and pass criteria for one task.
type Verification struct {
	Commands []string `json:"commands,omitempty"`
	Criteria string   `json:"criteria,omitempty"`
}

// Task is one (WorkItem x Profile) pairing. Immutable within a planning run
// except for Status.
type Task struct {
	ID           string       `json:"id"`
	WorkItemRef  string       `json:"work_item_ref"`
	Profile      Profile      `json:"profile"`
	Capabilities []string     `json:"capabilities"`
	Steps        []string     `json:"steps"` // Literal paths, or literal commands for /verification
	DependsOn    []string     `json:"depends_on,omitempty"` // Task IDs
	Verification Verification `json:"verification"`
	Status       TaskStatus   `json:"status"`
}

// ArchitectureModule is one entry of the architecture summary.
type ArchitectureModule struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
}

// ArchitectureSummary is the compact codebase model the scorer cross-references
// request fragments against.
type ArchitectureSummary struct {
	Modules      []ArchitectureModule `json:"modules"`
	Technologies []string             `json:"technologies"`
}

// HasModule reports whether a module with the given name exists (case folded
// by the caller).
func (a ArchitectureSummary) HasModule(name string) bool {
	for _, m := range a.Modules {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Question is one blocking user-clarification request. Options empty means
// free text; MultiSelect allows choosing several options.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options,omitempty"`
	MultiSelect bool     `json:"multi_select,omitempty"`
	Evidence    []string `json:"evidence,omitempty"` // Concrete examples shown to the user
}

// Answer is the user's response to one Question.
type Answer struct {
	QuestionID string   `json:"question_id"`
	Selected   []string `json:"selected"`
}

// Value returns the single selection, or the raw first entry for free text.
func (a Answer) Value() string {
	if len(a.Selected) == 0 {
		return ""
	}
	return a.Selected[0]
}
