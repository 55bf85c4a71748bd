// Package kernel wraps the Google Mangle engine behind the narrow surface the
// planning pipeline needs: load a Datalog schema, assert facts about the plan,
// evaluate rules, and read back derived facts. The Q-Gate checklist and plan
// validation are expressed as Mangle rules so that every structural check is
// declarative and queryable.
package kernel

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"planwright/internal/logging"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Fact is one predicate instance. String args starting with "/" become Mangle
// name constants; other strings become string constants; ints become numbers.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
}

// String returns the Datalog rendering of the fact.
func (f Fact) String() string {
	parts := make([]string, len(f.Args))
	for i, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				parts[i] = v
			} else {
				parts[i] = fmt.Sprintf("%q", v)
			}
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(parts, ", "))
}

// Engine holds one schema and one fact store. Not shared across planning runs;
// the orchestrator builds a fresh engine per phase that needs one.
type Engine struct {
	mu             sync.Mutex
	baseStore      factstore.FactStoreWithRemove
	store          factstore.ConcurrentFactStore
	programInfo    *analysis.ProgramInfo
	predicateIndex map[string]ast.PredicateSym
	fragments      []parse.SourceUnit
}

// NewEngine creates an empty engine. Call LoadSchemaString before asserting.
func NewEngine() *Engine {
	base := factstore.NewSimpleInMemoryStore()
	return &Engine{
		baseStore:      base,
		store:          factstore.NewConcurrentFactStore(base),
		predicateIndex: make(map[string]ast.PredicateSym),
	}
}

// LoadSchemaString parses and analyzes a Mangle schema (Decls plus rules).
// May be called repeatedly; fragments accumulate.
func (e *Engine) LoadSchemaString(schema string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		return fmt.Errorf("failed to parse schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fragments = append(e.fragments, unit)
	if err := e.rebuildLocked(); err != nil {
		// Roll back the bad fragment so the engine stays usable.
		e.fragments = e.fragments[:len(e.fragments)-1]
		if len(e.fragments) > 0 {
			if rerr := e.rebuildLocked(); rerr != nil {
				return fmt.Errorf("failed to analyze schema: %v (rollback also failed: %w)", err, rerr)
			}
		}
		return fmt.Errorf("failed to analyze schema: %w", err)
	}
	return nil
}

func (e *Engine) rebuildLocked() error {
	var clauses []ast.Clause
	var decls []ast.Decl
	for _, fragment := range e.fragments {
		clauses = append(clauses, fragment.Clauses...)
		decls = append(decls, fragment.Decls...)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: clauses, Decls: decls}, nil)
	if err != nil {
		return err
	}

	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
	}
	return nil
}

// Assert inserts facts without evaluating rules. Call Evaluate after a batch.
func (e *Engine) Assert(facts ...Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no schema loaded; call LoadSchemaString first")
	}

	for _, fact := range facts {
		atom, err := e.factToAtomLocked(fact)
		if err != nil {
			return err
		}
		e.store.Add(atom)
	}
	logging.Get(logging.CategoryKernel).Debug("asserted %d facts", len(facts))
	return nil
}

// Evaluate runs all rules to fixpoint against the current store.
func (e *Engine) Evaluate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no schema loaded; call LoadSchemaString first")
	}
	_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	if err != nil {
		return fmt.Errorf("rule evaluation failed: %w", err)
	}
	return nil
}

// Facts returns every stored fact (base or derived) for a predicate.
func (e *Engine) Facts(predicate string) ([]Fact, error) {
	e.mu.Lock()
	sym, ok := e.predicateIndex[predicate]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var results []Fact
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = termToValue(arg)
		}
		results = append(results, Fact{Predicate: predicate, Args: args})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Reset drops all facts, keeping the schema.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
}

func (e *Engine) factToAtomLocked(fact Fact) (ast.Atom, error) {
	sym, ok := e.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared in schema", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		term, err := valueToTerm(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", fact.Predicate, i, err)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

func valueToTerm(value interface{}) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case ast.BaseTerm:
		return v, nil
	case string:
		if strings.HasPrefix(v, "/") {
			name, err := ast.Name(v)
			if err != nil {
				return nil, err
			}
			return name, nil
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case bool:
		if v {
			return ast.Name("/true")
		}
		return ast.Name("/false")
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", value)
	}
}

func termToValue(term ast.BaseTerm) interface{} {
	switch v := term.(type) {
	case ast.Constant:
		switch v.Type {
		case ast.StringType, ast.NameType, ast.BytesType:
			return v.Symbol
		case ast.NumberType:
			return v.NumValue
		default:
			return v.String()
		}
	case ast.Variable:
		return v.Symbol
	default:
		return fmt.Sprintf("%v", term)
	}
}
