package domain

import (
	"time"

	"github.com/google/uuid"
)

// Team is an entity in the ground-truth partition. The partition itself is
// the set of teams grouped by Group; it is immutable at runtime and cached
// (see internal/service.TeamCache).
type Team struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LocalName   string    `gorm:"size:128;not null" json:"local_name"`
	EnglishName string    `gorm:"size:128;not null" json:"english_name"`
	Order       int       `gorm:"not null" json:"order"`
	Group       string    `gorm:"size:4;index;not null" json:"group"`
	Flag        string    `gorm:"size:256" json:"flag"`
	CreatedAt   time.Time `json:"created_at"`
}
