package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/observability"
)

var ErrTeamNotFound = errors.New("team not found")

// TeamRepository backs the entity/team catalog admin surface added in
// SPEC_FULL.md §7 and the ground-truth partition consumed by the Scoring
// Kernel (C9) through the team cache.
type TeamRepository interface {
	Create(t *domain.Team) error
	Update(t *domain.Team) error
	Delete(id uuid.UUID) error
	FindByID(id uuid.UUID) (*domain.Team, error)
	List() ([]domain.Team, error)
	// GroupedByLabel returns the immutable ground-truth partition: group
	// label to the ordered set of team ids in it.
	GroupedByLabel() (map[string][]string, error)
}

type GormTeamRepository struct{ db *gorm.DB }

func NewTeamRepository(db *gorm.DB) TeamRepository { return &GormTeamRepository{db: db} }

func (r *GormTeamRepository) Create(t *domain.Team) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.db.Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "team", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "team", "create", "success")
	return nil
}

func (r *GormTeamRepository) Update(t *domain.Team) error {
	err := r.db.Save(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "team", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "team", "update", "success")
	return nil
}

func (r *GormTeamRepository) Delete(id uuid.UUID) error {
	err := r.db.Delete(&domain.Team{}, "id = ?", id).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "team", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "team", "delete", "success")
	return nil
}

func (r *GormTeamRepository) FindByID(id uuid.UUID) (*domain.Team, error) {
	var t domain.Team
	err := r.db.First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "team", "find_by_id", "not_found")
			return nil, ErrTeamNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "team", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "team", "find_by_id", "success")
	return &t, nil
}

func (r *GormTeamRepository) List() ([]domain.Team, error) {
	var teams []domain.Team
	err := r.db.Order("\"order\" ASC").Find(&teams).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "team", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "team", "list", "success")
	return teams, nil
}

func (r *GormTeamRepository) GroupedByLabel() (map[string][]string, error) {
	teams, err := r.List()
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]string)
	for _, t := range teams {
		grouped[t.Group] = append(grouped[t.Group], t.ID.String())
	}
	return grouped, nil
}
