package scoring

import (
	"fmt"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTruth constructs the 12-group, 48-entity ground truth used across
// spec.md §8's literal end-to-end scenarios: A:1-4, B:5-8, ..., L:45-48.
func buildTruth() (GroundTruth, []string) {
	labels := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}
	truth := make(GroundTruth, len(labels))
	for i, l := range labels {
		base := i*4 + 1
		truth[l] = []string{fmt.Sprint(base), fmt.Sprint(base + 1), fmt.Sprint(base + 2), fmt.Sprint(base + 3)}
	}
	return truth, labels
}

func cloneSubmission(truth GroundTruth) Submission {
	sub := make(Submission, len(truth))
	for k, v := range truth {
		sub[k] = append([]string(nil), v...)
	}
	return sub
}

// rotateExcept builds a submission where every label except keep receives
// the next label's ground-truth content (cyclically), simulating "every
// other group rotated by one position among labels" from spec.md §8.
func rotateExcept(truth GroundTruth, labels []string, keep string) Submission {
	sub := make(Submission, len(labels))
	for i, l := range labels {
		next := labels[(i+1)%len(labels)]
		sub[l] = append([]string(nil), truth[next]...)
	}
	sub[keep] = append([]string(nil), truth[keep]...)
	return sub
}

func TestEvaluatePerfectScoresAllCorrect(t *testing.T) {
	truth, _ := buildTruth()
	user := cloneSubmission(truth)

	score := Evaluate(user, truth, "17")

	assert.Equal(t, 100, score.Value)
	assert.Equal(t, RuleAllCorrect, score.Rule)
	assert.Equal(t, 48, score.CorrectlyPlaced)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}, score.PerfectGroups)
}

func TestEvaluateTwoSwapScoresTwoMisplaced(t *testing.T) {
	truth, _ := buildTruth()
	user := cloneSubmission(truth)
	user["A"] = []string{"5", "2", "3", "4"}
	user["B"] = []string{"1", "6", "7", "8"}

	score := Evaluate(user, truth, "17")

	assert.Equal(t, 80, score.Value)
	assert.Equal(t, RuleTwoMisplaced, score.Rule)
	assert.ElementsMatch(t, []string{"1", "5"}, score.Misplaced)
}

func TestEvaluateThreeCycleScoresThreeMisplaced(t *testing.T) {
	truth, _ := buildTruth()
	user := cloneSubmission(truth)
	user["A"] = []string{"9", "2", "3", "4"}
	user["B"] = []string{"1", "6", "7", "8"}
	user["C"] = []string{"5", "10", "11", "12"}

	score := Evaluate(user, truth, "17")

	assert.Equal(t, 60, score.Value)
	assert.Equal(t, RuleThreeMisplaced, score.Rule)
	assert.ElementsMatch(t, []string{"9", "1", "5"}, score.Misplaced)
}

func TestEvaluateDesignatedGroupOnlyCorrectScoresIranGroupCorrect(t *testing.T) {
	truth, labels := buildTruth()
	user := rotateExcept(truth, labels, "E")

	score := Evaluate(user, truth, "17")

	require.Equal(t, RuleIranGroupCorrect, score.Rule)
	assert.Equal(t, 50, score.Value)
	assert.Equal(t, "E", score.GroupLabel)
}

func TestEvaluateOnePerfectNonDesignatedGroupScoresPerfectGroup(t *testing.T) {
	truth, labels := buildTruth()
	user := rotateExcept(truth, labels, "A")

	score := Evaluate(user, truth, "17")

	require.Equal(t, RulePerfectGroup, score.Rule)
	assert.Equal(t, 40, score.Value)
	assert.Equal(t, "A", score.GroupLabel)
}

func TestEvaluateThreeOfFourInOneGroupScoresThreeCorrect(t *testing.T) {
	truth, labels := buildTruth()
	user := rotateExcept(truth, labels, "A")
	user["A"] = []string{"1", "2", "3", "5"}

	score := Evaluate(user, truth, "17")

	require.Equal(t, RuleThreeCorrect, score.Rule)
	assert.Equal(t, 20, score.Value)
	assert.Equal(t, "A", score.GroupLabel)
}

func TestEvaluateNoMatchScoresZero(t *testing.T) {
	truth, labels := buildTruth()
	user := rotateExcept(truth, labels, "A")
	user["A"] = []string{"1", "2", "6", "7"}

	score := Evaluate(user, truth, "17")

	assert.Equal(t, RuleNoMatch, score.Rule)
	assert.Equal(t, 0, score.Value)
}

func TestEvaluateDisablesDesignatedRuleWhenEntityIDEmpty(t *testing.T) {
	truth, labels := buildTruth()
	user := rotateExcept(truth, labels, "E")

	score := Evaluate(user, truth, "")

	// E is still a perfect (non-designated) group, so PERFECT_GROUP fires
	// instead of IRAN_GROUP_CORRECT.
	assert.Equal(t, RulePerfectGroup, score.Rule)
	assert.Equal(t, "E", score.GroupLabel)
}

func TestEvaluateScoreIsWithinAllowedSet(t *testing.T) {
	allowed := map[int]bool{0: true, 20: true, 40: true, 50: true, 60: true, 80: true, 100: true}
	f := func(swap1, swap2 uint8) bool {
		truth, _ := buildTruth()
		user := cloneSubmission(truth)
		a := int(swap1 % 48)
		b := int(swap2 % 48)
		swapEntities(user, a, b)
		score := Evaluate(user, truth, "17")
		return allowed[score.Value]
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestEvaluateIndependentOfPermutationWithinGroup(t *testing.T) {
	truth, _ := buildTruth()
	user := cloneSubmission(truth)
	user["A"] = []string{"4", "3", "2", "1"}

	score := Evaluate(user, truth, "17")

	assert.Equal(t, RuleAllCorrect, score.Rule)
	assert.Equal(t, 100, score.Value)
}

func swapEntities(sub Submission, a, b int) {
	labels := sortedKeys(sub)
	labelA, idxA := a/4, a%4
	labelB, idxB := b/4, b%4
	if labelA >= len(labels) || labelB >= len(labels) {
		return
	}
	sub[labels[labelA]][idxA], sub[labels[labelB]][idxB] = sub[labels[labelB]][idxB], sub[labels[labelA]][idxA]
}

func TestFlattenPayloadFlattensSingleElementWrappers(t *testing.T) {
	raw := []byte(`{"A":["1",["2"],"3",[["4"]]]}`)
	sub, err := FlattenPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, sub["A"])
}

func TestFlattenPayloadRejectsMultiElementWrapper(t *testing.T) {
	raw := []byte(`{"A":["1",["2","3"]]}`)
	_, err := FlattenPayload(raw)
	assert.Error(t, err)
}

func TestFlattenPayloadRejectsNonObjectPayload(t *testing.T) {
	_, err := FlattenPayload([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func FuzzFlattenPayloadRobustness(f *testing.F) {
	f.Add(`{"A":["1","2","3","4"]}`)
	f.Add(`{"A":["1",["2"]]}`)
	f.Add(`{}`)
	f.Add(`not json`)
	f.Add(strings.Repeat(`{"A":["1"]}`, 100))

	f.Fuzz(func(t *testing.T, raw string) {
		if len(raw) > 8192 {
			raw = raw[:8192]
		}
		// FlattenPayload must never panic; an error is an acceptable
		// outcome for malformed input.
		_, _ = FlattenPayload([]byte(raw))
	})
}
