package repository

import (
	"testing"

	"github.com/groupstage/predictor-backend/internal/domain"
)

func TestTeamRepositoryGroupedByLabel(t *testing.T) {
	db := newRepoTestDB(t, &domain.Team{})
	repo := NewTeamRepository(db)

	teams := []domain.Team{
		{LocalName: "a1", EnglishName: "A1", Order: 1, Group: "A"},
		{LocalName: "a2", EnglishName: "A2", Order: 2, Group: "A"},
		{LocalName: "b1", EnglishName: "B1", Order: 3, Group: "B"},
	}
	for i := range teams {
		if err := repo.Create(&teams[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	grouped, err := repo.GroupedByLabel()
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	if len(grouped["A"]) != 2 {
		t.Fatalf("expected 2 teams in group A, got %d", len(grouped["A"]))
	}
	if len(grouped["B"]) != 1 {
		t.Fatalf("expected 1 team in group B, got %d", len(grouped["B"]))
	}
}
