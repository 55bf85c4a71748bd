package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
Decl edge(From, To).
Decl reaches(From, To).

reaches(A, B) :- edge(A, B).
reaches(A, C) :- edge(A, B), reaches(B, C).
`

func TestAssertAndDerive(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadSchemaString(testSchema))

	require.NoError(t, e.Assert(
		Fact{Predicate: "edge", Args: []interface{}{"/a", "/b"}},
		Fact{Predicate: "edge", Args: []interface{}{"/b", "/c"}},
	))
	require.NoError(t, e.Evaluate())

	facts, err := e.Facts("reaches")
	require.NoError(t, err)
	assert.Len(t, facts, 3) // a->b, b->c, a->c
}

func TestCycleDerivation(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadSchemaString(testSchema+`
Decl in_cycle(Node).
in_cycle(A) :- reaches(A, A).
`))

	require.NoError(t, e.Assert(
		Fact{Predicate: "edge", Args: []interface{}{"/a", "/b"}},
		Fact{Predicate: "edge", Args: []interface{}{"/b", "/a"}},
	))
	require.NoError(t, e.Evaluate())

	facts, err := e.Facts("in_cycle")
	require.NoError(t, err)
	assert.Len(t, facts, 2)
}

func TestAssertRejectsUndeclaredPredicate(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadSchemaString(testSchema))

	err := e.Assert(Fact{Predicate: "nope", Args: []interface{}{"/x"}})
	assert.ErrorContains(t, err, "not declared")
}

func TestAssertRejectsArityMismatch(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadSchemaString(testSchema))

	err := e.Assert(Fact{Predicate: "edge", Args: []interface{}{"/only_one"}})
	assert.ErrorContains(t, err, "expects 2 args")
}

func TestAssertBeforeSchemaFails(t *testing.T) {
	e := NewEngine()
	err := e.Assert(Fact{Predicate: "edge", Args: []interface{}{"/a", "/b"}})
	assert.ErrorContains(t, err, "no schema loaded")
}

func TestMixedArgumentTypes(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadSchemaString(`Decl scored(Item, Label, Points).`))

	require.NoError(t, e.Assert(Fact{Predicate: "scored", Args: []interface{}{"/item1", "free text", 42}}))
	facts, err := e.Facts("scored")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "/item1", facts[0].Args[0])
	assert.Equal(t, "free text", facts[0].Args[1])
	assert.Equal(t, int64(42), facts[0].Args[2])
}

func TestResetKeepsSchema(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadSchemaString(testSchema))
	require.NoError(t, e.Assert(Fact{Predicate: "edge", Args: []interface{}{"/a", "/b"}}))

	e.Reset()

	facts, err := e.Facts("edge")
	require.NoError(t, err)
	assert.Empty(t, facts)
	// Still usable after reset
	require.NoError(t, e.Assert(Fact{Predicate: "edge", Args: []interface{}{"/x", "/y"}}))
}

func TestBadSchemaRollsBack(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadSchemaString(testSchema))

	err := e.LoadSchemaString(`broken(X :-`)
	assert.Error(t, err)

	// Prior schema still works.
	require.NoError(t, e.Assert(Fact{Predicate: "edge", Args: []interface{}{"/a", "/b"}}))
}

func TestFactString(t *testing.T) {
	f := Fact{Predicate: "edge", Args: []interface{}{"/a", "plain", 7}}
	assert.Equal(t, `edge(/a, "plain", 7).`, f.String())
}
