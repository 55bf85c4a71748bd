package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"planwright/internal/config"
	"planwright/internal/graph"
	"planwright/internal/plan"
	"planwright/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// mockClient classifies every file in the prompt; overrides swap in per-path
// judgments, and failOn forces a backend failure for prompts naming a path.
type mockClient struct {
	overrides map[string]map[string]interface{}
	failOn    string
}

var mockPathPattern = regexp.MustCompile(`- (\S+) \(kind:`)

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if m.failOn != "" && regexp.MustCompile(regexp.QuoteMeta(m.failOn)).MatchString(userPrompt) {
		return "", fmt.Errorf("model endpoint down: %w", plan.ErrBackendUnavailable)
	}
	var results []map[string]interface{}
	for _, match := range mockPathPattern.FindAllStringSubmatch(userPrompt, -1) {
		path := match[1]
		r := map[string]interface{}{
			"path": path, "matches": true, "confidence": 90,
			"reasoning": "request names this area", "evidence": "path overlap",
		}
		if o, ok := m.overrides[path]; ok {
			for k, v := range o {
				r[k] = v
			}
		}
		results = append(results, r)
	}
	data, err := json.Marshal(results)
	return string(data), err
}

func testWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range []string{
		"internal/parser/parser.go",
		"internal/parser/lexer.go",
	} {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
	return root
}

func testContext(t *testing.T, client *mockClient) PlanContext {
	t.Helper()
	st, err := store.NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Skills.CatalogPath = filepath.Join(t.TempDir(), "skills.yaml")

	return PlanContext{
		RunID:     "run-test",
		Workspace: testWorkspace(t),
		Config:    cfg,
		Request: &plan.Request{
			ID: "req-1",
			Text: "Update the parser to accept YAML input. " +
				"Scope is limited to parser code only. " +
				"Success criteria: the parser must accept yaml files. " +
				"Add tests that verify the parser output coverage.",
			CreatedAt: time.Now(),
		},
		Arch: plan.ArchitectureSummary{
			Modules: []plan.ArchitectureModule{
				{Name: "parser", Purpose: "parses source files into syntax trees"},
			},
			Technologies: []string{"yaml"},
		},
		Store:  st,
		Client: client,
	}
}

func TestRunCompletesCleanPipeline(t *testing.T) {
	pc := testContext(t, &mockClient{})
	o := New(pc)

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
	assert.Equal(t, plan.PhaseComplete, o.Phase())

	var tasks []plan.Task
	require.NoError(t, pc.Store.LoadJSON(pc.RunID, "tasks", &tasks))
	require.Len(t, tasks, 3, "one work item, three profiles")
	for _, task := range tasks {
		assert.Equal(t, plan.TaskPending, task.Status)
		assert.NotEmpty(t, task.Capabilities)
	}

	cp, err := pc.Store.LoadCheckpoint(pc.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(plan.PhaseComplete), cp.Phase)
}

func TestRunSuspendsOnUncertaintyAndResumes(t *testing.T) {
	client := &mockClient{overrides: map[string]map[string]interface{}{
		"internal/parser/lexer.go": {"confidence": 55, "reasoning": "lexer coupling to yaml input is unclear"},
	}}
	pc := testContext(t, client)
	o := New(pc)

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingResolution, status)

	questions := o.Questions()
	require.Len(t, questions, 1)
	assert.Equal(t, []string{"include", "exclude"}, questions[0].Options)
	assert.Contains(t, questions[0].Evidence[0], "lexer.go")

	status, err = o.Resume(context.Background(), []plan.Answer{
		{QuestionID: questions[0].ID, Selected: []string{"include"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)

	// The uncertain record is superseded, never rewritten.
	all, err := pc.Store.AllAssessments(pc.RunID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	latest, err := pc.Store.LatestAssessments(pc.RunID)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	for _, a := range latest {
		assert.Equal(t, plan.CertainInclude, a.Certainty)
	}
}

func TestRunDerivesDependenciesFromAssessments(t *testing.T) {
	client := &mockClient{overrides: map[string]map[string]interface{}{
		"internal/parser/lexer.go": {"change_kind": "create",
			"reasoning": "a new lexer file is required", "evidence": "request adds yaml lexing"},
		"internal/parser/parser.go": {"depends_on": []string{"internal/parser/lexer.go"},
			"reasoning": "the parser consumes the lexer", "evidence": "request rewires parsing"},
	}}
	pc := testContext(t, client)
	o := New(pc)

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)

	var g graph.Graph
	require.NoError(t, pc.Store.LoadJSON(pc.RunID, "graph", &g))
	require.Len(t, g.Items, 2, "distinct change kinds split the bundle")
	require.Len(t, g.Layers, 2, "the created file lands in an earlier layer")

	byID := make(map[string]plan.WorkItem)
	for _, item := range g.Items {
		byID[item.ID] = item
	}
	created, ok := byID["wi-b0-create"]
	require.True(t, ok)
	modified, ok := byID["wi-b0-modify"]
	require.True(t, ok)

	assert.Equal(t, plan.ChangeCreate, created.ChangeKind)
	assert.Equal(t, []string{"internal/parser/lexer.go"}, created.AffectedCandidates)
	assert.Equal(t, plan.ChangeModify, modified.ChangeKind)
	assert.Equal(t, []string{created.ID}, modified.DependsOn)
	assert.Equal(t, "parser", modified.Module)
	assert.Equal(t, []string{created.ID}, g.Layers[0], "creation precedes modification")

	var taskList []plan.Task
	require.NoError(t, pc.Store.LoadJSON(pc.RunID, "tasks", &taskList))
	require.Len(t, taskList, 6, "two work items, three profiles each")

	implTask := make(map[string]plan.Task)
	for _, task := range taskList {
		if task.Profile == plan.ProfileImplementation {
			implTask[task.WorkItemRef] = task
		}
	}
	assert.Contains(t, implTask[modified.ID].DependsOn, implTask[created.ID].ID,
		"modification implementation waits on the creation implementation")
}

func TestRunHaltsWhenBackendUnavailable(t *testing.T) {
	pc := testContext(t, &mockClient{failOn: "parser.go"})
	o := New(pc)

	status, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusHalted, status)
	assert.True(t, errors.Is(err, plan.ErrBackendUnavailable))
	assert.Equal(t, ExitBackendUnavailable, ExitCode(err))
}

func TestRestoreResumesSuspendedRun(t *testing.T) {
	client := &mockClient{overrides: map[string]map[string]interface{}{
		"internal/parser/lexer.go": {"confidence": 55, "reasoning": "lexer coupling is unclear"},
	}}
	pc := testContext(t, client)
	o := New(pc)

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingResolution, status)

	// Simulate a new process: rebuild from the checkpoint.
	restored, err := Restore(pc)
	require.NoError(t, err)
	assert.Equal(t, plan.PhaseResolution, restored.Phase())

	// Re-running the suspended phase regenerates the questions.
	status, err = restored.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingResolution, status)
	questions := restored.Questions()
	require.Len(t, questions, 1)

	status, err = restored.Resume(context.Background(), []plan.Answer{
		{QuestionID: questions[0].ID, Selected: []string{"exclude"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitBackendUnavailable, ExitCode(fmt.Errorf("wrap: %w", plan.ErrBackendUnavailable)))
	assert.Equal(t, ExitValidationHalt, ExitCode(&plan.ScopeError{Step: "graph", Detail: "cycle"}))
	assert.Equal(t, ExitValidationHalt, ExitCode(&plan.CompletenessError{Step: "discovery", Detail: "count"}))
	assert.Equal(t, ExitError, ExitCode(errors.New("disk full")))
}

func TestResumeRejectedWhenNotSuspended(t *testing.T) {
	pc := testContext(t, &mockClient{})
	o := New(pc)

	_, err := o.Resume(context.Background(), nil)
	assert.Error(t, err)
}
