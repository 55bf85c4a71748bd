// Package refine implements the confidence-scoring loop that gates the whole
// pipeline: a request is evaluated against five quality dimensions plus a
// module-mapping check, clarification questions are derived mechanically from
// failing checks, and the loop re-scores until a threshold is met or the
// iteration cap is hit.
package refine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"planwright/internal/logging"
	"planwright/internal/plan"
)

// Dimension names one quality check.
type Dimension string

const (
	DimCorrectness    Dimension = "/correctness"     // Named modules/tech exist in the architecture
	DimCompleteness   Dimension = "/completeness"    // Scope boundary, success criteria, test expectations
	DimConsistency    Dimension = "/consistency"     // No mutually exclusive constraints
	DimNonDuplication Dimension = "/non_duplication" // No restated requirements
	DimAmbiguity      Dimension = "/ambiguity"       // Every noun phrase has one interpretation
	DimModuleMapping  Dimension = "/module_mapping"  // Request fragments map to modules
	DimFeedback       Dimension = "/feedback"        // Prior feedback was incorporated
)

// FindingStatus marks a check result.
type FindingStatus string

const (
	StatusPass  FindingStatus = "/pass"
	StatusIssue FindingStatus = "/issue"
)

// Finding is one quality-dimension result. Findings are ephemeral: recomputed
// every iteration, never persisted across iterations.
type Finding struct {
	Dimension Dimension     `json:"dimension"`
	Status    FindingStatus `json:"status"`
	Evidence  []string      `json:"evidence,omitempty"`
}

// DimensionScore is one weighted component of the confidence score.
type DimensionScore struct {
	Dimension Dimension `json:"dimension"`
	Weight    int       `json:"weight"`
	Score     int       `json:"score"` // 0-100 before weighting
}

// ConfidenceScore is the weighted sum over dimensions, in [0,100].
type ConfidenceScore struct {
	Total      int              `json:"total"`
	Dimensions []DimensionScore `json:"dimensions"`
}

// Weights without prior feedback. Sums to 100.
var baseWeights = map[Dimension]int{
	DimCorrectness:    20,
	DimCompleteness:   20,
	DimConsistency:    20,
	DimNonDuplication: 10,
	DimAmbiguity:      20,
	DimModuleMapping:  10,
}

// Weights when prior-iteration feedback exists: non-duplication drops out and
// 30 points go to whether the feedback was actually addressed.
var feedbackWeights = map[Dimension]int{
	DimCorrectness:   15,
	DimCompleteness:  15,
	DimConsistency:   15,
	DimAmbiguity:     15,
	DimModuleMapping: 10,
	DimFeedback:      30,
}

// Scorer evaluates requests against an architecture summary.
type Scorer struct {
	arch plan.ArchitectureSummary
}

// NewScorer creates a scorer bound to one architecture summary.
func NewScorer(arch plan.ArchitectureSummary) *Scorer {
	return &Scorer{arch: arch}
}

// Score evaluates the request. priorFeedback holds the answers given in the
// previous iteration (nil on the first pass) and switches the weight table.
func (s *Scorer) Score(request *plan.Request, priorFeedback []string) (ConfidenceScore, []Finding) {
	text := request.EffectiveText()

	findings := []Finding{
		s.checkCorrectness(text),
		s.checkCompleteness(text),
		s.checkConsistency(text),
		s.checkNonDuplication(text),
		s.checkAmbiguity(text),
	}

	dimScores := map[Dimension]int{
		DimCorrectness:    binaryScore(findings[0]),
		DimCompleteness:   s.gradeCompleteness(text),
		DimConsistency:    binaryScore(findings[2]),
		DimNonDuplication: binaryScore(findings[3]),
		DimAmbiguity:      binaryScore(findings[4]),
		DimModuleMapping:  s.gradeModuleMapping(text),
	}

	weights := baseWeights
	if len(priorFeedback) > 0 {
		weights = feedbackWeights
		dimScores[DimFeedback] = s.gradeFeedbackAddressed(text, priorFeedback)
		if dimScores[DimFeedback] < 100 {
			findings = append(findings, Finding{
				Dimension: DimFeedback,
				Status:    StatusIssue,
				Evidence:  []string{"prior clarification answers are not reflected in the request"},
			})
		} else {
			findings = append(findings, Finding{Dimension: DimFeedback, Status: StatusPass})
		}
	}

	score := ConfidenceScore{}
	total := 0
	for dim, weight := range weights {
		ds := DimensionScore{Dimension: dim, Weight: weight, Score: dimScores[dim]}
		score.Dimensions = append(score.Dimensions, ds)
		total += weight * ds.Score
	}
	sort.Slice(score.Dimensions, func(i, j int) bool {
		return score.Dimensions[i].Dimension < score.Dimensions[j].Dimension
	})
	score.Total = total / 100

	logging.Refine("scored request %s: %d", request.ID, score.Total)
	return score, findings
}

func binaryScore(f Finding) int {
	if f.Status == StatusPass {
		return 100
	}
	return 0
}

// moduleRefPattern catches explicit references like `module foo` or
// `the billing service`.
var moduleRefPattern = regexp.MustCompile(`(?i)\b(?:module|service|component|package|subsystem)\s+"?([a-zA-Z][\w.-]*)"?`)

// checkCorrectness cross-references module/technology names mentioned in the
// request against the architecture summary.
func (s *Scorer) checkCorrectness(text string) Finding {
	known := make(map[string]bool)
	for _, m := range s.arch.Modules {
		known[strings.ToLower(m.Name)] = true
	}
	for _, t := range s.arch.Technologies {
		known[strings.ToLower(t)] = true
	}

	var unknown []string
	seen := make(map[string]bool)
	for _, match := range moduleRefPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(match[1])
		if !known[name] && !seen[name] {
			seen[name] = true
			unknown = append(unknown, match[1])
		}
	}
	if len(unknown) > 0 {
		evidence := make([]string, len(unknown))
		for i, name := range unknown {
			evidence[i] = fmt.Sprintf("request references unknown module %q", name)
		}
		return Finding{Dimension: DimCorrectness, Status: StatusIssue, Evidence: evidence}
	}
	return Finding{Dimension: DimCorrectness, Status: StatusPass}
}

// UnknownModules extracts the module names the correctness check flags.
func (s *Scorer) UnknownModules(text string) []string {
	f := s.checkCorrectness(text)
	var names []string
	for _, ev := range f.Evidence {
		if m := regexp.MustCompile(`"([^"]+)"`).FindStringSubmatch(ev); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}

var completenessIndicators = []struct {
	name  string
	words []string
}{
	{"scope boundary", []string{"scope", "only", "limited to", "out of scope", "not include", "except", "excluding"}},
	{"success criteria", []string{"success", "criteria", "acceptance", "must", "should", "expect", "done when"}},
	{"test expectations", []string{"test", "tests", "verify", "verified", "coverage", "assert"}},
}

// checkCompleteness looks for scope boundaries, success criteria, and test
// expectations.
func (s *Scorer) checkCompleteness(text string) Finding {
	lower := strings.ToLower(text)
	var missing []string
	for _, ind := range completenessIndicators {
		if !containsAny(lower, ind.words) {
			missing = append(missing, ind.name)
		}
	}
	if len(missing) > 0 {
		evidence := make([]string, len(missing))
		for i, m := range missing {
			evidence[i] = "missing " + m
		}
		return Finding{Dimension: DimCompleteness, Status: StatusIssue, Evidence: evidence}
	}
	return Finding{Dimension: DimCompleteness, Status: StatusPass}
}

// gradeCompleteness is the graded variant: fraction of indicators present.
func (s *Scorer) gradeCompleteness(text string) int {
	lower := strings.ToLower(text)
	present := 0
	for _, ind := range completenessIndicators {
		if containsAny(lower, ind.words) {
			present++
		}
	}
	return present * 100 / len(completenessIndicators)
}

// contradictoryPairs lists constraint words that cannot both apply to the
// same subject.
var contradictoryPairs = [][2]string{
	{"synchronous", "asynchronous"},
	{"always", "never"},
	{"must", "must not"},
	{"add", "remove"},
	{"enable", "disable"},
	{"include", "exclude"},
}

// checkConsistency flags sentences that impose mutually exclusive constraints
// on the same subject.
func (s *Scorer) checkConsistency(text string) Finding {
	sentences := splitSentences(text)
	var evidence []string
	for _, pair := range contradictoryPairs {
		var withA, withB []string
		for _, sent := range sentences {
			lower := " " + strings.ToLower(sent) + " "
			hasB := strings.Contains(lower, " "+pair[1]+" ")
			// "must" matches inside "must not"; require the bare form.
			hasA := strings.Contains(lower, " "+pair[0]+" ") && !(pair[1] == pair[0]+" not" && hasB)
			if hasB {
				withB = append(withB, sent)
			} else if hasA {
				withA = append(withA, sent)
			}
		}
		for _, a := range withA {
			for _, b := range withB {
				if subjectOverlap(a, b) {
					evidence = append(evidence, fmt.Sprintf("%q conflicts with %q", strings.TrimSpace(a), strings.TrimSpace(b)))
				}
			}
		}
	}
	if len(evidence) > 0 {
		return Finding{Dimension: DimConsistency, Status: StatusIssue, Evidence: evidence}
	}
	return Finding{Dimension: DimConsistency, Status: StatusPass}
}

// checkNonDuplication flags near-identical requirement sentences.
func (s *Scorer) checkNonDuplication(text string) Finding {
	sentences := splitSentences(text)
	var evidence []string
	for i := 0; i < len(sentences); i++ {
		for j := i + 1; j < len(sentences); j++ {
			if tokenJaccard(sentences[i], sentences[j]) >= 0.8 {
				evidence = append(evidence, fmt.Sprintf("%q restates %q",
					strings.TrimSpace(sentences[j]), strings.TrimSpace(sentences[i])))
			}
		}
	}
	if len(evidence) > 0 {
		return Finding{Dimension: DimNonDuplication, Status: StatusIssue, Evidence: evidence}
	}
	return Finding{Dimension: DimNonDuplication, Status: StatusPass}
}

// vagueTerms are phrases with more than one reasonable interpretation.
var vagueTerms = []string{
	"etc", "and so on", "somehow", "various", "appropriate", "as needed",
	"relevant", "properly", "some of", "certain", "miscellaneous", "stuff",
}

// checkAmbiguity flags noun phrases that do not resolve to one interpretation.
func (s *Scorer) checkAmbiguity(text string) Finding {
	lower := strings.ToLower(text)
	var evidence []string
	for _, term := range vagueTerms {
		if strings.Contains(lower, term) {
			evidence = append(evidence, fmt.Sprintf("vague phrase %q", term))
		}
	}
	if len(evidence) > 0 {
		return Finding{Dimension: DimAmbiguity, Status: StatusIssue, Evidence: evidence}
	}
	return Finding{Dimension: DimAmbiguity, Status: StatusPass}
}

// gradeModuleMapping scores how well request fragments map to known modules:
// the fraction of sentences that mention a module name or purpose keyword.
func (s *Scorer) gradeModuleMapping(text string) int {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return 0
	}
	matched := 0
	for _, sent := range sentences {
		if len(s.matchModules(sent)) > 0 {
			matched++
		}
	}
	return matched * 100 / len(sentences)
}

// matchModules returns the module names a fragment references by name or by
// purpose keywords.
func (s *Scorer) matchModules(fragment string) []string {
	lower := strings.ToLower(fragment)
	var names []string
	for _, m := range s.arch.Modules {
		if strings.Contains(lower, strings.ToLower(m.Name)) {
			names = append(names, m.Name)
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(m.Purpose)) {
			if len(word) >= 5 && strings.Contains(lower, word) {
				names = append(names, m.Name)
				break
			}
		}
	}
	return names
}

// Domains returns the distinct module names the whole request touches.
func (s *Scorer) Domains(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sent := range splitSentences(text) {
		for _, name := range s.matchModules(sent) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// gradeFeedbackAddressed measures how much of the prior feedback shows up in
// the effective request text.
func (s *Scorer) gradeFeedbackAddressed(text string, priorFeedback []string) int {
	if len(priorFeedback) == 0 {
		return 100
	}
	lower := strings.ToLower(text)
	addressed := 0
	for _, fb := range priorFeedback {
		if fb != "" && strings.Contains(lower, strings.ToLower(fb)) {
			addressed++
		}
	}
	return addressed * 100 / len(priorFeedback)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "of": true, "and": true,
	"in": true, "on": true, "for": true, "is": true, "be": true, "it": true,
	"that": true, "this": true, "with": true, "should": true, "must": true,
}

func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, `.,;:"'()`)
		if w != "" && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

func tokenJaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for w := range ta {
		if tb[w] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// subjectOverlap reports whether two sentences share enough content words to
// be talking about the same thing.
func subjectOverlap(a, b string) bool {
	return tokenJaccard(a, b) >= 0.3
}
