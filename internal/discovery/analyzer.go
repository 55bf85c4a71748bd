package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"planwright/internal/logging"
	"planwright/internal/perception"
	"planwright/internal/plan"
)

const analyzerSystemPrompt = `You classify repository files against a change request.
For EVERY file listed, judge from its path, kind, and content excerpt whether the
file must change to satisfy the request. File kind alone is never sufficient
grounds for a judgment; evidence must cite the file's content, not just its name.
Respond with a JSON array, one object per file:
[{"path": "...", "matches": true|false, "confidence": 0-100,
  "change_kind": "modify|create|delete|config",
  "depends_on": ["paths from the list whose changes must land first"],
  "reasoning": "...", "evidence": "..."}]
confidence is your certainty in the matches judgment. change_kind says what the
request does to the file; depends_on is usually empty. reasoning must cite the
request. evidence quotes the request fragment and the file content relied on.
Respond with JSON only.`

// bundleResult is the wire shape of one classification in the model response.
type bundleResult struct {
	Path       string   `json:"path"`
	Matches    bool     `json:"matches"`
	Confidence int      `json:"confidence"`
	ChangeKind string   `json:"change_kind,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Reasoning  string   `json:"reasoning"`
	Evidence   string   `json:"evidence"`
}

// Analyzer classifies candidate bundles in parallel. Every candidate receives
// exactly one assessment; a model failure in any bundle aborts the whole
// analysis and discards sibling results, because a partially-assessed
// inventory is worse than none.
type Analyzer struct {
	runID       string
	client      perception.LLMClient
	maxParallel int
}

// NewAnalyzer creates an analyzer. maxParallel bounds concurrent bundles.
func NewAnalyzer(runID string, client perception.LLMClient, maxParallel int) *Analyzer {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Analyzer{runID: runID, client: client, maxParallel: maxParallel}
}

// Analyze classifies every bundled candidate against the request. On success
// the returned assessments satisfy the count invariant: one per candidate,
// with include + exclude + uncertain summing to the candidate total.
func (a *Analyzer) Analyze(ctx context.Context, requestText string, bundles [][]plan.Candidate) ([]plan.Assessment, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "Analyze")
	defer timer.Stop()

	total := 0
	for _, b := range bundles {
		total += len(b)
	}

	var (
		mu  sync.Mutex
		out []plan.Assessment
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel)

	for i, bundle := range bundles {
		bundleID := fmt.Sprintf("b%d", i)
		bundle := bundle
		g.Go(func() error {
			logging.EmitSimple(logging.AuditBundleDispatch, a.runID,
				fmt.Sprintf("%s: %d candidates", bundleID, len(bundle)))

			assessments, err := a.analyzeBundle(ctx, requestText, bundleID, bundle)
			if err != nil {
				logging.EmitError(logging.AuditLLMError, a.runID, err)
				return err
			}

			mu.Lock()
			out = append(out, assessments...)
			mu.Unlock()

			logging.EmitSimple(logging.AuditBundleComplete, a.runID,
				fmt.Sprintf("%s: %d assessments", bundleID, len(assessments)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Sibling results are already collected in out; discard everything.
		return nil, fmt.Errorf("discovery analysis failed: %w", err)
	}

	if err := validateCounts(total, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Analyzer) analyzeBundle(ctx context.Context, requestText, bundleID string, bundle []plan.Candidate) ([]plan.Assessment, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Change request:\n%s\n\nFiles:\n", requestText)
	for _, c := range bundle {
		fmt.Fprintf(&sb, "- %s (kind: %s)\n", c.Path, c.Kind)
		for _, line := range strings.Split(c.Excerpt, "\n") {
			if line != "" {
				fmt.Fprintf(&sb, "    %s\n", line)
			}
		}
	}

	raw, err := a.client.CompleteWithSystem(ctx, analyzerSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", bundleID, err)
	}

	var results []bundleResult
	if err := json.Unmarshal([]byte(perception.CleanJSONResponse(raw)), &results); err != nil {
		return nil, fmt.Errorf("bundle %s: unparseable classification response: %w", bundleID, err)
	}

	byPath := make(map[string]plan.Candidate, len(bundle))
	for _, c := range bundle {
		byPath[c.Path] = c
	}

	now := time.Now()
	seen := make(map[string]bool, len(results))
	assessments := make([]plan.Assessment, 0, len(bundle))
	for _, r := range results {
		c, ok := byPath[r.Path]
		if !ok {
			return nil, &plan.CompletenessError{
				Step:   "discovery",
				Detail: fmt.Sprintf("bundle %s: response classifies %s, which is not in the bundle", bundleID, r.Path),
			}
		}
		if seen[r.Path] {
			return nil, &plan.CompletenessError{
				Step:   "discovery",
				Detail: fmt.Sprintf("bundle %s: %s classified twice", bundleID, r.Path),
			}
		}
		seen[r.Path] = true

		certainty := plan.Gate(r.Confidence, r.Matches)
		assessments = append(assessments, plan.Assessment{
			ID:           uuid.NewString(),
			CandidateRef: c.Ref(),
			Path:         c.Path,
			Bundle:       bundleID,
			Certainty:    certainty,
			Confidence:   r.Confidence,
			ChangeKind:   changeKindOf(r.ChangeKind),
			DependsOn:    r.DependsOn,
			Reasoning:    r.Reasoning,
			Evidence:     r.Evidence,
			CreatedAt:    now,
		})
		logging.Emit(logging.AuditEvent{
			EventType: logging.AuditGateAssigned,
			RunID:     a.runID,
			Phase:     string(plan.PhaseDiscovery),
			Target:    c.Path,
			Success:   true,
			Message:   string(certainty),
			Fields:    map[string]interface{}{"confidence": r.Confidence, "bundle": bundleID},
		})
	}

	if len(assessments) != len(bundle) {
		missing := make([]string, 0)
		for _, c := range bundle {
			if !seen[c.Path] {
				missing = append(missing, c.Path)
			}
		}
		return nil, &plan.CompletenessError{
			Step:   "discovery",
			Detail: fmt.Sprintf("bundle %s: %d of %d candidates unclassified: %s", bundleID, len(missing), len(bundle), strings.Join(missing, ", ")),
		}
	}
	return assessments, nil
}

// changeKindOf maps the model's change_kind string to the typed constant.
// Anything unrecognized, including an omitted field, falls back to modify.
func changeKindOf(s string) plan.ChangeKind {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/")) {
	case "create":
		return plan.ChangeCreate
	case "delete":
		return plan.ChangeDelete
	case "config":
		return plan.ChangeConfig
	default:
		return plan.ChangeModify
	}
}

// validateCounts enforces the aggregation invariant immediately after fan-in:
// one assessment per candidate and gate counts that sum to the total.
func validateCounts(total int, assessments []plan.Assessment) error {
	if len(assessments) != total {
		return &plan.CompletenessError{
			Step:   "discovery",
			Detail: fmt.Sprintf("%d candidates but %d assessments", total, len(assessments)),
		}
	}
	counts := map[plan.Certainty]int{}
	for _, a := range assessments {
		counts[a.Certainty]++
	}
	sum := counts[plan.CertainInclude] + counts[plan.CertainExclude] + counts[plan.Uncertain]
	if sum != total {
		return &plan.CompletenessError{
			Step:   "discovery",
			Detail: fmt.Sprintf("gate counts %v sum to %d, expected %d", counts, sum, total),
		}
	}
	logging.Discovery("gates: %d include, %d exclude, %d uncertain",
		counts[plan.CertainInclude], counts[plan.CertainExclude], counts[plan.Uncertain])
	return nil
}
