package refine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"planwright/internal/logging"
	"planwright/internal/plan"
)

// LoopState is the refinement loop's explicit state. The loop never blocks on
// user input itself: when clarification is needed it parks in
// /awaiting_clarification and the caller resumes it with answers, which is what
// makes a run checkpointable mid-refinement.
type LoopState string

const (
	StateScoring               LoopState = "/scoring"
	StateAwaitingClarification LoopState = "/awaiting_clarification"
	StateThresholdMet          LoopState = "/threshold_met"
	StateIterationCapReached   LoopState = "/iteration_cap_reached"
)

// Outcome is the refinement result handed to the router. Hitting the
// iteration cap is a successful terminal state with ManualReview set, not a
// failure.
type Outcome struct {
	Score        ConfidenceScore `json:"score"`
	Findings     []Finding       `json:"findings"`
	Track        plan.Track      `json:"track"`
	Domains      []string        `json:"domains"`
	Iterations   int             `json:"iterations"`
	ManualReview bool            `json:"manual_review,omitempty"`
}

// Loop drives iterative scoring of one request.
type Loop struct {
	runID     string
	scorer    *Scorer
	request   *plan.Request
	threshold int
	maxIter   int

	state     LoopState
	iteration int
	score     ConfidenceScore
	findings  []Finding
	pending   []plan.Question
	feedback  []string // Answer values from the previous iteration
}

// NewLoop creates a loop over one request. threshold and maxIterations come
// from config (defaults 85 and 3).
func NewLoop(runID string, scorer *Scorer, request *plan.Request, threshold, maxIterations int) *Loop {
	return &Loop{
		runID:     runID,
		scorer:    scorer,
		request:   request,
		threshold: threshold,
		maxIter:   maxIterations,
		state:     StateScoring,
	}
}

// State returns the loop's current state.
func (l *Loop) State() LoopState { return l.state }

// Iteration returns the number of completed scoring passes.
func (l *Loop) Iteration() int { return l.iteration }

// Step runs one scoring pass and advances the state machine. It is only legal
// in /scoring; a loop parked in /awaiting_clarification must be resumed first.
func (l *Loop) Step() (LoopState, error) {
	if l.state != StateScoring {
		return l.state, fmt.Errorf("step in state %s: loop is not scoring", l.state)
	}

	l.iteration++
	l.score, l.findings = l.scorer.Score(l.request, l.feedback)

	logging.Emit(logging.AuditEvent{
		EventType: logging.AuditScoreComputed,
		RunID:     l.runID,
		Phase:     string(plan.PhaseRefinement),
		Success:   true,
		Message:   fmt.Sprintf("iteration %d scored %d", l.iteration, l.score.Total),
		Fields:    map[string]interface{}{"score": l.score.Total, "iteration": l.iteration},
	})
	logging.Refine("iteration %d: score %d (threshold %d)", l.iteration, l.score.Total, l.threshold)

	switch {
	case l.score.Total >= l.threshold:
		l.state = StateThresholdMet
	case l.iteration >= l.maxIter:
		// Cap hit: proceed with the best-effort request, flagged for review.
		l.state = StateIterationCapReached
		logging.EmitSimple(logging.AuditCapReached, l.runID,
			fmt.Sprintf("score %d after %d iterations", l.score.Total, l.iteration))
	default:
		l.pending = deriveQuestions(l.scorer, l.findings)
		if len(l.pending) == 0 {
			// Nothing mechanical to ask; further iterations cannot improve
			// the score, so treat this like a cap hit.
			l.state = StateIterationCapReached
			logging.EmitSimple(logging.AuditCapReached, l.runID,
				fmt.Sprintf("score %d with no derivable questions", l.score.Total))
		} else {
			l.state = StateAwaitingClarification
			for _, q := range l.pending {
				logging.Emit(logging.AuditEvent{
					EventType: logging.AuditUserQuestion,
					RunID:     l.runID,
					Phase:     string(plan.PhaseRefinement),
					Target:    q.ID,
					Success:   true,
					Message:   q.Prompt,
				})
			}
		}
	}
	return l.state, nil
}

// Questions returns the pending clarification questions. Only meaningful in
// /awaiting_clarification.
func (l *Loop) Questions() []plan.Question { return l.pending }

// Resume feeds user answers back into the loop. Each answer is appended to the
// request's clarification history; the loop returns to /scoring.
func (l *Loop) Resume(answers []plan.Answer) error {
	if l.state != StateAwaitingClarification {
		return fmt.Errorf("resume in state %s: no pending questions", l.state)
	}

	byID := make(map[string]plan.Question, len(l.pending))
	for _, q := range l.pending {
		byID[q.ID] = q
	}

	l.feedback = l.feedback[:0]
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return fmt.Errorf("answer references unknown question %s", a.QuestionID)
		}
		value := strings.Join(a.Selected, ", ")
		l.request.Append(q.Prompt, value)
		l.feedback = append(l.feedback, value)
		logging.Emit(logging.AuditEvent{
			EventType: logging.AuditClarification,
			RunID:     l.runID,
			Phase:     string(plan.PhaseRefinement),
			Target:    a.QuestionID,
			Success:   true,
			Message:   value,
		})
	}

	l.pending = nil
	l.state = StateScoring
	return nil
}

// Outcome returns the final result. Only valid once the loop is terminal.
func (l *Loop) Outcome() (Outcome, error) {
	if l.state != StateThresholdMet && l.state != StateIterationCapReached {
		return Outcome{}, fmt.Errorf("outcome in state %s: loop not terminal", l.state)
	}
	text := l.request.EffectiveText()
	domains := l.scorer.Domains(text)
	return Outcome{
		Score:        l.score,
		Findings:     l.findings,
		Track:        decideTrack(l.scorer, text, domains),
		Domains:      domains,
		Iterations:   l.iteration,
		ManualReview: l.state == StateIterationCapReached,
	}, nil
}

// scopeWords signal codebase-wide intent; any hit routes to the complex track.
var scopeWords = []string{
	"all ", "every ", "entire ", "across ", "throughout ", "whole ",
	"codebase", "migrate", "refactor", "rewrite", "audit",
}

// decideTrack applies the routing rule table: explicit module mapping with no
// scope words takes the simple track; scope words, weak mapping, or a request
// spanning more than two modules mandates discovery on the complex track.
func decideTrack(s *Scorer, text string, domains []string) plan.Track {
	lower := strings.ToLower(text)
	if containsAny(lower, scopeWords) {
		return plan.TrackComplex
	}
	if s.gradeModuleMapping(text) < 80 {
		return plan.TrackComplex
	}
	if len(domains) > 2 {
		return plan.TrackComplex
	}
	return plan.TrackSimple
}

var quotedEvidence = regexp.MustCompile(`"([^"]+)"`)

// deriveQuestions produces clarification questions mechanically from failing
// checks. No LLM is involved: each question quotes the finding's evidence and,
// where the answer space is enumerable, offers a closed choice.
func deriveQuestions(s *Scorer, findings []Finding) []plan.Question {
	var out []plan.Question
	for _, f := range findings {
		if f.Status != StatusIssue {
			continue
		}
		switch f.Dimension {
		case DimCorrectness:
			options := make([]string, 0, len(s.arch.Modules)+1)
			for _, m := range s.arch.Modules {
				options = append(options, m.Name)
			}
			options = append(options, "a new module")
			for _, ev := range f.Evidence {
				name := firstQuoted(ev)
				if name == "" {
					continue
				}
				out = append(out, plan.Question{
					ID:       uuid.NewString(),
					Prompt:   fmt.Sprintf("The request mentions %q, which does not match any known module. Which module is meant?", name),
					Options:  options,
					Evidence: []string{ev},
				})
			}
		case DimCompleteness:
			for _, ev := range f.Evidence {
				out = append(out, completenessQuestion(ev))
			}
		case DimConsistency:
			for _, ev := range f.Evidence {
				out = append(out, plan.Question{
					ID:       uuid.NewString(),
					Prompt:   "These statements impose conflicting constraints. Which one applies?",
					Evidence: []string{ev},
				})
			}
		case DimNonDuplication:
			for _, ev := range f.Evidence {
				out = append(out, plan.Question{
					ID:       uuid.NewString(),
					Prompt:   "These statements look like the same requirement stated twice. Are they one requirement or two distinct ones?",
					Options:  []string{"one requirement", "two distinct requirements"},
					Evidence: []string{ev},
				})
			}
		case DimAmbiguity:
			for _, ev := range f.Evidence {
				term := firstQuoted(ev)
				out = append(out, plan.Question{
					ID:     uuid.NewString(),
					Prompt: fmt.Sprintf("The request says %q. Should this be read narrowly or broadly?", term),
					Options: []string{
						"narrowly: only the explicitly named components",
						"broadly: all related components",
					},
					Evidence: []string{ev},
				})
			}
		case DimFeedback:
			out = append(out, plan.Question{
				ID:       uuid.NewString(),
				Prompt:   "Earlier answers do not appear in the request. Please restate how they change the scope.",
				Evidence: f.Evidence,
			})
		}
	}
	return out
}

func completenessQuestion(evidence string) plan.Question {
	q := plan.Question{ID: uuid.NewString(), Evidence: []string{evidence}}
	switch {
	case strings.Contains(evidence, "scope boundary"):
		q.Prompt = "No scope boundary is stated. Should the change be limited to the components named in the request?"
		q.Options = []string{"yes, only the named components", "no, related components may change too"}
	case strings.Contains(evidence, "success criteria"):
		q.Prompt = "No success criteria are stated. What observable outcome marks this change as done?"
	case strings.Contains(evidence, "test expectations"):
		q.Prompt = "No test expectations are stated. Are new or updated tests expected as part of this change?"
		q.Options = []string{"yes", "no"}
	default:
		q.Prompt = "The request is missing detail: " + evidence
	}
	return q
}

func firstQuoted(s string) string {
	if m := quotedEvidence.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
