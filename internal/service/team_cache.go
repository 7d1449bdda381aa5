package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/repository"
	"github.com/groupstage/predictor-backend/internal/scoring"
)

const (
	groundTruthKey  = "correct-groups"
	groundTruthTTL  = time.Hour
	designatedIDKey = "teams:designated-id:"
	designatedIDTTL = time.Hour
)

// TeamCache implements the ground-truth lookup the Worker (C12) reads on
// every job: the immutable group-label-to-team-id partition, cache-then-DB
// with 1-hour TTL repopulation on a miss, per spec.md §4.7 step 2.
// Grounded on the teacher's cache-then-DB pattern in
// internal/service/session_service.go's validateViaCache.
type TeamCache struct {
	cache cache.Cache
	teams repository.TeamRepository
}

func NewTeamCache(c cache.Cache, teams repository.TeamRepository) *TeamCache {
	return &TeamCache{cache: c, teams: teams}
}

// GroundTruth returns the group-label partition, serving from cache when
// present and repopulating it from the database on a miss.
func (t *TeamCache) GroundTruth(ctx context.Context) (scoring.GroundTruth, error) {
	raw, err := t.cache.Get(ctx, groundTruthKey)
	if err == nil {
		var truth scoring.GroundTruth
		if jsonErr := json.Unmarshal([]byte(raw), &truth); jsonErr == nil {
			return truth, nil
		}
	} else if !isCacheMiss(err) {
		return nil, fmt.Errorf("team cache: read ground truth: %w", err)
	}

	grouped, err := t.teams.GroupedByLabel()
	if err != nil {
		return nil, fmt.Errorf("team cache: load ground truth from db: %w", err)
	}
	truth := scoring.GroundTruth(grouped)

	if encoded, jsonErr := json.Marshal(truth); jsonErr == nil {
		_ = t.cache.SetEX(ctx, groundTruthKey, string(encoded), groundTruthTTL)
	}
	return truth, nil
}

// DesignatedEntityID resolves the team id of the configured English name
// (default "Iran") used by the scoring kernel's IRAN_GROUP_CORRECT rule. It
// returns ok=false when no team with that name exists, which the caller
// treats as "rule 4 disabled" rather than an error.
func (t *TeamCache) DesignatedEntityID(ctx context.Context, englishName string) (string, bool, error) {
	key := designatedIDKey + englishName
	if id, err := t.cache.Get(ctx, key); err == nil {
		return id, true, nil
	} else if !isCacheMiss(err) {
		return "", false, fmt.Errorf("team cache: read designated entity id: %w", err)
	}

	teams, err := t.teams.List()
	if err != nil {
		return "", false, fmt.Errorf("team cache: list teams: %w", err)
	}
	for _, team := range teams {
		if team.EnglishName == englishName {
			id := team.ID.String()
			_ = t.cache.SetEX(ctx, key, id, designatedIDTTL)
			return id, true, nil
		}
	}
	return "", false, nil
}

// Invalidate drops the cached ground truth, forcing the next GroundTruth
// call to repopulate from the database. No production code path calls it;
// without it a cached partition lives until its 1-hour TTL expires.
func (t *TeamCache) Invalidate(ctx context.Context) error {
	return t.cache.Del(ctx, groundTruthKey)
}
