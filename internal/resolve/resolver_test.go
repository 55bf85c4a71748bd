package resolve

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planwright/internal/plan"
)

func uncertainAssessment(id, path, reasoning string) plan.Assessment {
	return plan.Assessment{
		ID: id, CandidateRef: "ref-" + id, Path: path, Bundle: "b0",
		Certainty: plan.Uncertain, Confidence: 60, Reasoning: reasoning,
		CreatedAt: time.Now(),
	}
}

func TestClusterGroupsSimilarReasoning(t *testing.T) {
	assessments := []plan.Assessment{
		uncertainAssessment("a1", "pkg/cache/lru.go", "cache eviction policy may be affected by the new ttl handling"),
		uncertainAssessment("a2", "pkg/cache/ttl.go", "cache eviction policy may be affected by ttl handling changes"),
		uncertainAssessment("a3", "docs/readme.md", "documentation mentions the old endpoint name"),
	}

	groups := ClusterUncertain(assessments)
	require.Len(t, groups, 2)

	// Deterministic: members sorted by path, cache files grouped together.
	assert.Len(t, groups[0].Members, 1)
	assert.Equal(t, "docs/readme.md", groups[0].Members[0].Path)
	assert.Len(t, groups[1].Members, 2)
	assert.Contains(t, groups[1].Keywords, "cache")
}

func TestClusterDissimilarReasoningStaysSeparate(t *testing.T) {
	assessments := []plan.Assessment{
		uncertainAssessment("a1", "a.go", "retry logic depends on backoff configuration"),
		uncertainAssessment("a2", "b.go", "schema migration ordering is ambiguous"),
	}

	groups := ClusterUncertain(assessments)
	assert.Len(t, groups, 2)
}

func TestClusterIgnoresCertainAssessments(t *testing.T) {
	assessments := []plan.Assessment{
		{ID: "a1", Path: "a.go", Certainty: plan.CertainInclude, Confidence: 95},
		{ID: "a2", Path: "b.go", Certainty: plan.CertainExclude, Confidence: 90},
	}
	assert.Empty(t, ClusterUncertain(assessments))
}

func TestQuestionsCarryEvidenceAndChoices(t *testing.T) {
	groups := ClusterUncertain([]plan.Assessment{
		uncertainAssessment("a1", "pkg/cache/lru.go", "cache eviction policy may change"),
		uncertainAssessment("a2", "pkg/cache/ttl.go", "cache eviction policy may change"),
	})
	require.Len(t, groups, 1)

	questions := Questions("run1", groups)
	require.Len(t, questions, 1)
	q := questions[0]
	assert.Equal(t, groups[0].ID, q.ID)
	assert.Equal(t, []string{"include", "exclude"}, q.Options)
	require.Len(t, q.Evidence, 2)
	assert.Contains(t, q.Evidence[0], "pkg/cache/lru.go")
}

// Seventeen candidates: fifteen already certain, two uncertain for the same
// reason. Resolution must produce exactly two new records, leave history
// intact, and end with zero uncertainty.
func TestResolveScenario(t *testing.T) {
	var latest []plan.Assessment
	for i := 0; i < 15; i++ {
		latest = append(latest, plan.Assessment{
			ID: fmt.Sprintf("c%d", i), Path: fmt.Sprintf("pkg/f%d.go", i),
			Certainty: plan.CertainInclude, Confidence: 92,
		})
	}
	u1 := uncertainAssessment("u1", "pkg/hooks/pre.go", "hook ordering relative to the new validation step is unclear")
	u2 := uncertainAssessment("u2", "pkg/hooks/post.go", "hook ordering relative to the validation step is unclear")
	latest = append(latest, u1, u2)

	groups := ClusterUncertain(latest)
	require.Len(t, groups, 1, "same reasoning theme must yield one question, not two")

	answers := []plan.Answer{{QuestionID: groups[0].ID, Selected: []string{"include"}}}
	resolved, err := Apply("run1", groups, answers)
	require.NoError(t, err)
	require.Len(t, resolved, 2)

	for _, r := range resolved {
		assert.Equal(t, plan.CertainInclude, r.Certainty)
		assert.Equal(t, plan.ResolvedConfidence, r.Confidence)
		assert.NotEmpty(t, r.ResolvedFrom)
		assert.NotEqual(t, r.ID, r.ResolvedFrom)
	}

	// Effective set after supersession: 15 originals + 2 resolutions.
	effective := append([]plan.Assessment{}, latest[:15]...)
	effective = append(effective, resolved...)
	require.NoError(t, Validate(effective))
	assert.Len(t, effective, 17)

	// Idempotent: nothing left to cluster.
	assert.Empty(t, ClusterUncertain(effective))
}

func TestApplyRejectsUnansweredGroup(t *testing.T) {
	groups := ClusterUncertain([]plan.Assessment{
		uncertainAssessment("a1", "a.go", "unknown coupling"),
	})
	require.Len(t, groups, 1)

	_, err := Apply("run1", groups, nil)
	assert.Error(t, err)
}

func TestApplyRejectsBadAnswerValue(t *testing.T) {
	groups := ClusterUncertain([]plan.Assessment{
		uncertainAssessment("a1", "a.go", "unknown coupling"),
	})
	require.Len(t, groups, 1)

	_, err := Apply("run1", groups, []plan.Answer{{QuestionID: groups[0].ID, Selected: []string{"maybe"}}})
	assert.Error(t, err)
}

func TestValidateFlagsRemainingUncertainty(t *testing.T) {
	err := Validate([]plan.Assessment{uncertainAssessment("a1", "a.go", "x")})
	require.Error(t, err)

	var completeness *plan.CompletenessError
	assert.ErrorAs(t, err, &completeness)
}
