package tasks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planwright/internal/graph"
	"planwright/internal/plan"
	"planwright/internal/skills"
)

var testVerifyCommands = []string{"go build ./...", "go test ./..."}

func newMaterializer() *Materializer {
	return NewMaterializer("run1", skills.DefaultCatalog(), testVerifyCommands)
}

func buildGraph(t *testing.T, items []plan.WorkItem) *graph.Graph {
	t.Helper()
	g, err := graph.Build(items)
	require.NoError(t, err)
	return g
}

func TestMaterializeOneTaskPerItemProfile(t *testing.T) {
	g := buildGraph(t, []plan.WorkItem{
		{ID: "wi-a", Title: "update parser", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"internal/parser/parser.go"},
			Profiles:           []plan.Profile{plan.ProfileImplementation, plan.ProfileTesting, plan.ProfileVerification}},
		{ID: "wi-b", Title: "update docs", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"README.md"},
			Profiles:           []plan.Profile{plan.ProfileImplementation}},
	})

	tasks, err := newMaterializer().Materialize(g)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	counts := make(map[string]int)
	for _, task := range tasks {
		counts[task.WorkItemRef+string(task.Profile)]++
		assert.Equal(t, plan.TaskPending, task.Status)
		assert.NotEmpty(t, task.ID)
		assert.NotEmpty(t, task.Capabilities)
	}
	for key, n := range counts {
		assert.Equal(t, 1, n, "pairing %s duplicated", key)
	}
}

func TestMaterializeIntraItemProfileOrdering(t *testing.T) {
	g := buildGraph(t, []plan.WorkItem{
		{ID: "wi-a", Title: "update parser", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"internal/parser/parser.go"},
			// Declared out of order on purpose.
			Profiles: []plan.Profile{plan.ProfileVerification, plan.ProfileImplementation, plan.ProfileTesting}},
	})

	tasks, err := newMaterializer().Materialize(g)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	byProfile := make(map[plan.Profile]plan.Task)
	for _, task := range tasks {
		byProfile[task.Profile] = task
	}

	impl := byProfile[plan.ProfileImplementation]
	testing_ := byProfile[plan.ProfileTesting]
	verify := byProfile[plan.ProfileVerification]

	assert.Empty(t, impl.DependsOn)
	assert.Equal(t, []string{impl.ID}, testing_.DependsOn)
	assert.ElementsMatch(t, []string{impl.ID, testing_.ID}, verify.DependsOn)
}

func TestMaterializeCrossItemDependencies(t *testing.T) {
	g := buildGraph(t, []plan.WorkItem{
		{ID: "wi-a", Title: "create schema", ChangeKind: plan.ChangeCreate,
			AffectedCandidates: []string{"db/schema.sql"},
			Profiles:           []plan.Profile{plan.ProfileImplementation}},
		{ID: "wi-b", Title: "wire store", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"internal/store/store.go"},
			DependsOn:          []string{"wi-a"},
			Profiles:           []plan.Profile{plan.ProfileImplementation}},
	})

	tasks, err := newMaterializer().Materialize(g)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var aImpl, bImpl plan.Task
	for _, task := range tasks {
		switch task.WorkItemRef {
		case "wi-a":
			aImpl = task
		case "wi-b":
			bImpl = task
		}
	}
	assert.Equal(t, []string{aImpl.ID}, bImpl.DependsOn)
}

func TestMaterializeVerificationCarriesCommands(t *testing.T) {
	g := buildGraph(t, []plan.WorkItem{
		{ID: "wi-a", Title: "update parser", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"internal/parser/parser.go"},
			Profiles:           []plan.Profile{plan.ProfileVerification}},
	})

	tasks, err := newMaterializer().Materialize(g)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	assert.Equal(t, testVerifyCommands, tasks[0].Steps)
	assert.Equal(t, testVerifyCommands, tasks[0].Verification.Commands)
	assert.NotEmpty(t, tasks[0].Verification.Criteria)
}

func TestMaterializeEmptyVerifyCommandsFallsBack(t *testing.T) {
	g := buildGraph(t, []plan.WorkItem{
		{ID: "wi-a", Title: "update parser", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"internal/parser/parser.go"},
			Profiles:           []plan.Profile{plan.ProfileVerification}},
	})

	tasks, err := NewMaterializer("run1", skills.DefaultCatalog(), nil).Materialize(g)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	assert.Equal(t, defaultVerifyCommands, tasks[0].Steps)
	assert.Equal(t, defaultVerifyCommands, tasks[0].Verification.Commands)
}

func TestMaterializeRejectsItemWithoutProfiles(t *testing.T) {
	g := buildGraph(t, []plan.WorkItem{
		{ID: "wi-a", Title: "update parser", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"internal/parser/parser.go"}},
	})

	_, err := newMaterializer().Materialize(g)
	require.Error(t, err)

	var completeness *plan.CompletenessError
	assert.True(t, errors.As(err, &completeness))
}

func TestValidateSteps(t *testing.T) {
	cases := []struct {
		name    string
		profile plan.Profile
		steps   []string
		wantErr bool
	}{
		{"literal path", plan.ProfileImplementation, []string{"internal/parser/parser.go"}, false},
		{"prose step", plan.ProfileImplementation, []string{"update the parser somehow"}, true},
		{"wildcard path", plan.ProfileImplementation, []string{"internal/*.go"}, true},
		{"placeholder", plan.ProfileImplementation, []string{"internal/<module>/file.go"}, true},
		{"empty steps", plan.ProfileTesting, nil, true},
		{"literal command", plan.ProfileVerification, []string{"go test ./..."}, false},
		{"command with placeholder", plan.ProfileVerification, []string{"run <something>"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSteps(tc.profile, tc.steps)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
