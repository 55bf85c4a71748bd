// Package resolve turns uncertain assessments into user questions and applies
// the answers back as new assessment records. Uncertain records with similar
// reasoning are grouped so the user answers once per theme instead of once per
// file, and one answer applies uniformly to every member of its group.
package resolve

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"planwright/internal/logging"
	"planwright/internal/plan"
)

// groupOverlapThreshold is the minimum keyword Jaccard similarity between two
// uncertain assessments for them to share a clarification question.
const groupOverlapThreshold = 0.5

// Group is a set of uncertain assessments sharing a reasoning theme.
type Group struct {
	ID       string            `json:"id"`
	Members  []plan.Assessment `json:"members"`
	Keywords []string          `json:"keywords"` // Shared reasoning terms, sorted
}

// ClusterUncertain groups the uncertain assessments by reasoning similarity.
// Certain assessments are ignored, so running this over an already-resolved
// set yields no groups.
func ClusterUncertain(assessments []plan.Assessment) []Group {
	var uncertain []plan.Assessment
	for _, a := range assessments {
		if a.Certainty == plan.Uncertain {
			uncertain = append(uncertain, a)
		}
	}
	if len(uncertain) == 0 {
		return nil
	}
	// Deterministic grouping regardless of input order.
	sort.Slice(uncertain, func(i, j int) bool { return uncertain[i].Path < uncertain[j].Path })

	assigned := make([]bool, len(uncertain))
	var groups []Group
	for i := range uncertain {
		if assigned[i] {
			continue
		}
		seed := keywords(uncertain[i].Reasoning)
		group := Group{ID: uuid.NewString(), Members: []plan.Assessment{uncertain[i]}}
		shared := seed
		assigned[i] = true
		for j := i + 1; j < len(uncertain); j++ {
			if assigned[j] {
				continue
			}
			other := keywords(uncertain[j].Reasoning)
			if jaccard(seed, other) >= groupOverlapThreshold {
				group.Members = append(group.Members, uncertain[j])
				shared = intersect(shared, other)
				assigned[j] = true
			}
		}
		group.Keywords = sortedSet(shared)
		groups = append(groups, group)
	}

	logging.Resolve("clustered %d uncertain assessments into %d groups", len(uncertain), len(groups))
	return groups
}

// Questions derives one closed-choice question per group. The question ID is
// the group ID, which is how answers are routed back in Apply.
func Questions(runID string, groups []Group) []plan.Question {
	questions := make([]plan.Question, len(groups))
	for i, g := range groups {
		evidence := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			evidence = append(evidence, fmt.Sprintf("%s: %s", m.Path, m.Reasoning))
		}
		theme := strings.Join(g.Keywords, ", ")
		if theme == "" {
			theme = "unclear relationship to the request"
		}
		questions[i] = plan.Question{
			ID:       g.ID,
			Prompt:   fmt.Sprintf("%d candidate(s) could not be classified (%s). Should they be included in the change scope?", len(g.Members), theme),
			Options:  []string{"include", "exclude"},
			Evidence: evidence,
		}
		logging.Emit(logging.AuditEvent{
			EventType: logging.AuditGroupQuestion,
			RunID:     runID,
			Phase:     string(plan.PhaseResolution),
			Target:    g.ID,
			Success:   true,
			Message:   questions[i].Prompt,
			Fields:    map[string]interface{}{"members": len(g.Members)},
		})
	}
	return questions
}

// Apply converts answers into new assessment records: one per group member,
// classified per the group's answer, at the fixed resolved confidence, with
// ResolvedFrom linking back to the superseded record. Every group must be
// answered; leaving a group unresolved is an error because downstream phases
// require zero uncertain assessments.
func Apply(runID string, groups []Group, answers []plan.Answer) ([]plan.Assessment, error) {
	byGroup := make(map[string]plan.Answer, len(answers))
	for _, a := range answers {
		byGroup[a.QuestionID] = a
	}

	now := time.Now()
	var resolved []plan.Assessment
	for _, g := range groups {
		answer, ok := byGroup[g.ID]
		if !ok {
			return nil, fmt.Errorf("group %s is unanswered; all uncertainty must be resolved before planning continues", g.ID)
		}
		certainty, err := certaintyFor(answer.Value())
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.ID, err)
		}
		for _, m := range g.Members {
			resolved = append(resolved, plan.Assessment{
				ID:           uuid.NewString(),
				CandidateRef: m.CandidateRef,
				Path:         m.Path,
				Bundle:       m.Bundle,
				Certainty:    certainty,
				Confidence:   plan.ResolvedConfidence,
				ChangeKind:   m.ChangeKind,
				DependsOn:    m.DependsOn,
				Reasoning:    fmt.Sprintf("user resolved as %s: %s", answer.Value(), m.Reasoning),
				Evidence:     m.Evidence,
				ResolvedFrom: m.ID,
				CreatedAt:    now,
			})
		}
		logging.Emit(logging.AuditEvent{
			EventType: logging.AuditGroupResolved,
			RunID:     runID,
			Phase:     string(plan.PhaseResolution),
			Target:    g.ID,
			Success:   true,
			Message:   answer.Value(),
			Fields:    map[string]interface{}{"members": len(g.Members)},
		})
	}
	return resolved, nil
}

// Validate checks the zero-uncertainty postcondition over the latest-effective
// assessment set.
func Validate(assessments []plan.Assessment) error {
	var stillUncertain []string
	for _, a := range assessments {
		if a.Certainty == plan.Uncertain {
			stillUncertain = append(stillUncertain, a.Path)
		}
	}
	if len(stillUncertain) > 0 {
		return &plan.CompletenessError{
			Step:   "resolution",
			Detail: fmt.Sprintf("%d assessments remain uncertain: %s", len(stillUncertain), strings.Join(stillUncertain, ", ")),
		}
	}
	return nil
}

func certaintyFor(value string) (plan.Certainty, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "include":
		return plan.CertainInclude, nil
	case "exclude":
		return plan.CertainExclude, nil
	default:
		return "", fmt.Errorf("answer must be include or exclude, got %q", value)
	}
}

var reasoningStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "of": true, "and": true,
	"in": true, "on": true, "is": true, "it": true, "this": true, "that": true,
	"for": true, "with": true, "be": true, "may": true, "might": true,
	"could": true, "whether": true, "unclear": true, "uncertain": true,
}

// keywords normalizes reasoning text into a token set: lowercased, punctuation
// stripped, stopwords and generic hedging words removed.
func keywords(reasoning string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(reasoning)) {
		w = strings.Trim(w, `.,;:"'()!?`)
		if len(w) > 2 && !reasoningStopwords[w] {
			out[w] = true
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for w := range a {
		if b[w] {
			out[w] = true
		}
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
