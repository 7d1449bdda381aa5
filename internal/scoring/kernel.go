// Package scoring implements the priority-ordered rule evaluator (C9):
// given a user's partition of entities into groups and the ground-truth
// partition, it returns the first matching rule and a score, independent
// of any storage or transport concern.
package scoring

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Rule identifies one of the seven priority-ordered scoring outcomes.
type Rule string

const (
	RuleAllCorrect       Rule = "ALL_CORRECT"
	RuleTwoMisplaced     Rule = "TWO_MISPLACED"
	RuleThreeMisplaced   Rule = "THREE_MISPLACED"
	RuleIranGroupCorrect Rule = "IRAN_GROUP_CORRECT"
	RulePerfectGroup     Rule = "PERFECT_GROUP"
	RuleThreeCorrect     Rule = "THREE_CORRECT"
	RuleNoMatch          Rule = "NO_MATCH"
)

// ruleScore and ruleTag mirror spec's priority table: the fixed score and
// the legacy numeric tag persisted in a Result's scoringBreakdown.
var ruleScore = map[Rule]int{
	RuleAllCorrect:       100,
	RuleTwoMisplaced:     80,
	RuleThreeMisplaced:   60,
	RuleIranGroupCorrect: 50,
	RulePerfectGroup:     40,
	RuleThreeCorrect:     20,
	RuleNoMatch:          0,
}

var ruleTag = map[Rule]int{
	RuleAllCorrect:       1,
	RuleTwoMisplaced:     2,
	RuleThreeMisplaced:   3,
	RuleIranGroupCorrect: 4,
	RulePerfectGroup:     5,
	RuleThreeCorrect:     6,
	RuleNoMatch:          7,
}

// Score is a scoring outcome: exactly one rule fired, contributing details
// depend on which.
type Score struct {
	Value           int
	Rule            Rule
	RuleTag         int
	Misplaced       []string
	PerfectGroups   []string
	CorrectlyPlaced int
	GroupLabel      string
	Teams           []string
}

// GroundTruth maps a group label to the set of entity ids that belong to
// it, e.g. {"A": {"1","2","3","4"}, ...}.
type GroundTruth map[string][]string

// Submission maps a group label to the (already flattened) sequence of
// entity ids the user placed there.
type Submission map[string][]string

// Evaluate implements spec.md §4.6: computes total misplaced count, then
// tries each rule in priority order and returns the first match.
// designatedEntityID identifies the special entity (default corresponds
// to "Iran"); an empty string disables rule 4 entirely.
func Evaluate(user Submission, truth GroundTruth, designatedEntityID string) Score {
	misplacedByGroup := make(map[string][]string, len(user))
	totalMisplaced := 0
	for label, entities := range user {
		truthSet := toSet(truth[label])
		var diff []string
		for _, e := range entities {
			if _, ok := truthSet[e]; !ok {
				diff = append(diff, e)
			}
		}
		if len(diff) > 0 {
			misplacedByGroup[label] = diff
			totalMisplaced += len(diff)
		}
	}

	if totalMisplaced == 0 {
		return Score{
			Value:           ruleScore[RuleAllCorrect],
			Rule:            RuleAllCorrect,
			RuleTag:         ruleTag[RuleAllCorrect],
			PerfectGroups:   sortedKeys(user),
			CorrectlyPlaced: countEntities(user),
		}
	}

	if totalMisplaced == 2 {
		return Score{
			Value:     ruleScore[RuleTwoMisplaced],
			Rule:      RuleTwoMisplaced,
			RuleTag:   ruleTag[RuleTwoMisplaced],
			Misplaced: flattenMisplaced(misplacedByGroup),
		}
	}

	if totalMisplaced == 3 {
		return Score{
			Value:     ruleScore[RuleThreeMisplaced],
			Rule:      RuleThreeMisplaced,
			RuleTag:   ruleTag[RuleThreeMisplaced],
			Misplaced: flattenMisplaced(misplacedByGroup),
		}
	}

	if designatedEntityID != "" {
		// The user's group under the entity's ground-truth label must hold
		// the entity and match that group exactly; a copy of the entity
		// placed in some other user group does not hide the match.
		truthLabel, foundInTruth := findLabel(Submission(truth), designatedEntityID)
		if foundInTruth && setsEqual(toSet(user[truthLabel]), toSet(truth[truthLabel])) {
			return Score{
				Value:      ruleScore[RuleIranGroupCorrect],
				Rule:       RuleIranGroupCorrect,
				RuleTag:    ruleTag[RuleIranGroupCorrect],
				GroupLabel: truthLabel,
				Teams:      append([]string(nil), user[truthLabel]...),
			}
		}
	}

	for _, label := range sortedKeys(user) {
		if setsEqual(toSet(user[label]), toSet(truth[label])) {
			return Score{
				Value:      ruleScore[RulePerfectGroup],
				Rule:       RulePerfectGroup,
				RuleTag:    ruleTag[RulePerfectGroup],
				GroupLabel: label,
				Teams:      append([]string(nil), user[label]...),
			}
		}
	}

	for _, label := range sortedKeys(user) {
		if len(intersect(toSet(user[label]), toSet(truth[label]))) == 3 {
			return Score{
				Value:      ruleScore[RuleThreeCorrect],
				Rule:       RuleThreeCorrect,
				RuleTag:    ruleTag[RuleThreeCorrect],
				GroupLabel: label,
				Teams:      append([]string(nil), user[label]...),
			}
		}
	}

	return Score{Value: ruleScore[RuleNoMatch], Rule: RuleNoMatch, RuleTag: ruleTag[RuleNoMatch]}
}

// FlattenPayload normalizes an opaque submission payload — a JSON object
// mapping group label to an array of entities, where any entity may
// itself be wrapped in a single-element array — into a plain
// label-to-entity-id Submission, per spec.md §9's dynamic-JSON design
// note.
func FlattenPayload(raw json.RawMessage) (Submission, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("scoring: payload is not a JSON object: %w", err)
	}

	out := make(Submission, len(obj))
	for label, rawEntries := range obj {
		var entries []json.RawMessage
		if err := json.Unmarshal(rawEntries, &entries); err != nil {
			return nil, fmt.Errorf("scoring: group %q is not a JSON array: %w", label, err)
		}
		ids := make([]string, 0, len(entries))
		for _, entry := range entries {
			id, err := flattenEntity(entry)
			if err != nil {
				return nil, fmt.Errorf("scoring: group %q: %w", label, err)
			}
			ids = append(ids, id)
		}
		out[label] = ids
	}
	return out, nil
}

func flattenEntity(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var wrapped []json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if len(wrapped) == 1 {
			return flattenEntity(wrapped[0])
		}
		return "", fmt.Errorf("expected a single-element wrapper, got %d elements", len(wrapped))
	}
	return "", fmt.Errorf("unrecognized entity encoding: %s", raw)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func findLabel(user Submission, entityID string) (string, bool) {
	for _, label := range sortedKeys(user) {
		for _, id := range user[label] {
			if id == entityID {
				return label, true
			}
		}
	}
	return "", false
}

func sortedKeys(user Submission) []string {
	keys := make([]string, 0, len(user))
	for k := range user {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func countEntities(user Submission) int {
	n := 0
	for _, ids := range user {
		n += len(ids)
	}
	return n
}

func flattenMisplaced(byGroup map[string][]string) []string {
	labels := make([]string, 0, len(byGroup))
	for label := range byGroup {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	out := make([]string, 0)
	for _, label := range labels {
		out = append(out, byGroup[label]...)
	}
	return out
}
