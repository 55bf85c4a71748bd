package qgate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planwright/internal/plan"
	"planwright/internal/store"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	st, err := store.NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewVerifier("run1", st)
}

func cleanSnapshot() Snapshot {
	return Snapshot{
		Items: []plan.WorkItem{
			{ID: "wi-a", Title: "update parser", ChangeKind: plan.ChangeModify,
				Profiles: []plan.Profile{plan.ProfileImplementation}},
			{ID: "wi-b", Title: "update store", ChangeKind: plan.ChangeModify,
				DependsOn: []string{"wi-a"},
				Profiles:  []plan.Profile{plan.ProfileImplementation, plan.ProfileTesting}},
		},
		Tasks: []plan.Task{
			{ID: "t1", WorkItemRef: "wi-a", Profile: plan.ProfileImplementation},
			{ID: "t2", WorkItemRef: "wi-b", Profile: plan.ProfileImplementation},
			{ID: "t3", WorkItemRef: "wi-b", Profile: plan.ProfileTesting},
		},
		Assessments: []plan.Assessment{
			{ID: "a1", CandidateRef: "ref1", Path: "a.go", Certainty: plan.CertainInclude, Confidence: 92},
			{ID: "a2", CandidateRef: "ref2", Path: "b.go", Certainty: plan.CertainExclude, Confidence: 90},
		},
		CandidateTotal: 2,
	}
}

func TestVerifyCleanPlanHasNoFindings(t *testing.T) {
	v := newVerifier(t)

	findings, err := v.Verify(cleanSnapshot())
	require.NoError(t, err)
	assert.Empty(t, findings)

	assert.NoError(t, v.RequireDrained(plan.PhaseGraphing))
	assert.NoError(t, v.RequireDrained(plan.PhaseMaterialization))
}

func findingTypes(findings []plan.GateFinding) []string {
	var types []string
	for _, f := range findings {
		types = append(types, f.Type)
	}
	return types
}

func TestVerifyDetectsCycle(t *testing.T) {
	v := newVerifier(t)
	s := cleanSnapshot()
	s.Items[0].DependsOn = []string{"wi-b"} // wi-a <-> wi-b

	findings, err := v.Verify(s)
	require.NoError(t, err)
	assert.Contains(t, findingTypes(findings), "/cycle")

	for _, f := range findings {
		if f.Type == "/cycle" {
			assert.Equal(t, plan.PhaseGraphing, f.Phase)
			assert.Equal(t, plan.ResolutionPending, f.Resolution)
		}
	}
}

func TestVerifyDetectsOrphanAndMissingTask(t *testing.T) {
	v := newVerifier(t)
	s := cleanSnapshot()
	// wi-b loses all tasks: orphan, plus missing tasks for both its profiles.
	s.Tasks = s.Tasks[:1]

	findings, err := v.Verify(s)
	require.NoError(t, err)

	types := findingTypes(findings)
	assert.Contains(t, types, "/orphan_item")
	assert.Contains(t, types, "/missing_task")

	var missing int
	for _, f := range findings {
		if f.Type == "/missing_task" {
			missing++
			assert.Contains(t, f.Title, "wi-b")
		}
	}
	assert.Equal(t, 2, missing, "one finding per missing (item, profile) pairing")
}

func TestVerifyDetectsUnresolvedUncertainty(t *testing.T) {
	v := newVerifier(t)
	s := cleanSnapshot()
	s.Assessments[1].Certainty = plan.Uncertain

	findings, err := v.Verify(s)
	require.NoError(t, err)

	var found bool
	for _, f := range findings {
		if f.Type == "/unresolved_uncertain" {
			found = true
			assert.Equal(t, plan.PhaseResolution, f.Phase)
			assert.Contains(t, f.Title, "b.go")
		}
	}
	assert.True(t, found)
}

func TestVerifyDetectsCountMismatch(t *testing.T) {
	v := newVerifier(t)
	s := cleanSnapshot()
	s.CandidateTotal = 3 // One candidate never got assessed.

	findings, err := v.Verify(s)
	require.NoError(t, err)
	assert.Contains(t, findingTypes(findings), "/count_mismatch")
}

func TestVerifyDetectsDuplicateTask(t *testing.T) {
	v := newVerifier(t)
	s := cleanSnapshot()
	s.Tasks = append(s.Tasks, plan.Task{ID: "t4", WorkItemRef: "wi-a", Profile: plan.ProfileImplementation})

	findings, err := v.Verify(s)
	require.NoError(t, err)
	assert.Contains(t, findingTypes(findings), "/duplicate_task")
}

func TestDrainProtocol(t *testing.T) {
	v := newVerifier(t)
	s := cleanSnapshot()
	s.Items[0].DependsOn = []string{"wi-b"}

	findings, err := v.Verify(s)
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	// Re-entry must see the pending findings before doing new work.
	assert.Error(t, v.RequireDrained(plan.PhaseGraphing))

	pending, err := v.Pending(plan.PhaseGraphing)
	require.NoError(t, err)
	require.NotEmpty(t, pending)

	for _, f := range pending {
		require.NoError(t, v.Resolve(f.ID, "dependency removed in replan"))
	}
	assert.NoError(t, v.RequireDrained(plan.PhaseGraphing))

	// Findings survive resolution for the audit trail.
	all, err := v.Pending(plan.PhaseGraphing)
	require.NoError(t, err)
	assert.Empty(t, all)
}
