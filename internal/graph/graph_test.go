package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planwright/internal/plan"
)

func item(id string, deps ...string) plan.WorkItem {
	return plan.WorkItem{ID: id, Title: id, ChangeKind: plan.ChangeModify, DependsOn: deps}
}

func TestBuildLayersRespectDependencies(t *testing.T) {
	items := []plan.WorkItem{
		item("wi-a"),
		item("wi-b", "wi-a"),
		item("wi-c", "wi-a"),
		item("wi-d", "wi-b", "wi-c"),
	}

	g, err := Build(items)
	require.NoError(t, err)

	want := [][]string{{"wi-a"}, {"wi-b", "wi-c"}, {"wi-d"}}
	if diff := cmp.Diff(want, g.Layers); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}

	for _, wi := range items {
		for _, dep := range wi.DependsOn {
			assert.Less(t, g.LayerOf(dep), g.LayerOf(wi.ID),
				"%s must be layered after %s", wi.ID, dep)
		}
	}
}

func TestBuildLayerUnionEqualsInput(t *testing.T) {
	items := []plan.WorkItem{
		item("wi-a"),
		item("wi-b", "wi-a"),
		item("wi-c"),
		item("wi-d", "wi-b"),
		item("wi-e", "wi-c", "wi-a"),
	}

	g, err := Build(items)
	require.NoError(t, err)

	var got []string
	for _, layer := range g.Layers {
		got = append(got, layer...)
	}
	sort.Strings(got)

	want := []string{"wi-a", "wi-b", "wi-c", "wi-d", "wi-e"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("layer union mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildReportsExactCyclePath(t *testing.T) {
	items := []plan.WorkItem{
		item("wi-a", "wi-b"),
		item("wi-b", "wi-a"),
		item("wi-c"),
	}

	_, err := Build(items)
	require.Error(t, err)

	var scopeErr *plan.ScopeError
	require.True(t, errors.As(err, &scopeErr))
	assert.Contains(t, scopeErr.Detail, "wi-a -> wi-b -> wi-a")
	assert.True(t, plan.IsFatal(err))
}

func TestBuildDetectsLongerCycle(t *testing.T) {
	items := []plan.WorkItem{
		item("wi-a", "wi-b"),
		item("wi-b", "wi-c"),
		item("wi-c", "wi-a"),
	}

	_, err := Build(items)
	require.Error(t, err)

	var scopeErr *plan.ScopeError
	require.True(t, errors.As(err, &scopeErr))
	assert.Contains(t, scopeErr.Detail, "wi-a -> wi-b -> wi-c -> wi-a")
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	_, err := Build([]plan.WorkItem{item("wi-a", "wi-ghost")})
	require.Error(t, err)

	var scopeErr *plan.ScopeError
	require.True(t, errors.As(err, &scopeErr))
	assert.Contains(t, scopeErr.Detail, "wi-ghost")
	assert.NotEmpty(t, scopeErr.Remediation)
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	_, err := Build([]plan.WorkItem{item("wi-a"), item("wi-a")})
	require.Error(t, err)

	var scopeErr *plan.ScopeError
	assert.True(t, errors.As(err, &scopeErr))
}

func TestBuildAddsImplicitReferenceEdges(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "wi-create", Title: "create schema", ChangeKind: plan.ChangeCreate,
			AffectedCandidates: []string{"db/schema.sql"}},
		{ID: "wi-use", Title: "wire schema", ChangeKind: plan.ChangeModify,
			AffectedCandidates: []string{"db/schema.sql", "internal/store/store.go"}},
	}

	g, err := Build(items)
	require.NoError(t, err)

	assert.Equal(t, []string{"wi-create"}, g.Edges["wi-use"])
	assert.Equal(t, 0, g.LayerOf("wi-create"))
	assert.Equal(t, 1, g.LayerOf("wi-use"))
}

func TestBuildSelfDependencyIgnored(t *testing.T) {
	g, err := Build([]plan.WorkItem{item("wi-a", "wi-a")})
	require.NoError(t, err)
	assert.Empty(t, g.Edges["wi-a"])
	assert.Equal(t, [][]string{{"wi-a"}}, g.Layers)
}

func TestBuildEmptyInput(t *testing.T) {
	g, err := Build(nil)
	require.NoError(t, err)
	assert.Empty(t, g.Layers)
	assert.Empty(t, g.Items)
}
