package repository

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/domain"
)

func TestResultRepositoryExistsBySubmissionID(t *testing.T) {
	db := newRepoTestDB(t, &domain.Result{})
	repo := NewResultRepository(db)

	submissionID := uuid.New()
	exists, err := repo.ExistsBySubmissionID(submissionID)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected no result before create")
	}

	if err := repo.Create(&domain.Result{SubmissionID: submissionID, UserID: uuid.New(), TotalScore: 80, Details: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err = repo.ExistsBySubmissionID(submissionID)
	if err != nil {
		t.Fatalf("exists after create: %v", err)
	}
	if !exists {
		t.Fatal("expected result to exist after create")
	}
}

func TestResultRepositoryLeaderboardOrdersByScoreDesc(t *testing.T) {
	db := newRepoTestDB(t, &domain.Result{})
	repo := NewResultRepository(db)

	scores := []int{40, 100, 60}
	for _, s := range scores {
		if err := repo.Create(&domain.Result{SubmissionID: uuid.New(), UserID: uuid.New(), TotalScore: s, Details: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	leaderboard, err := repo.Leaderboard(10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(leaderboard) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(leaderboard))
	}
	if leaderboard[0].TotalScore != 100 || leaderboard[1].TotalScore != 60 || leaderboard[2].TotalScore != 40 {
		t.Fatalf("expected descending score order, got %v", leaderboard)
	}
}
