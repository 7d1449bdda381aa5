package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Submission stores a user's partition of entities into groups as an
// opaque JSON payload. The mapping is group label -> ordered sequence of
// entity ids; a nested single-element wrapper per entity is tolerated on
// input and flattened at score time (see internal/scoring). Cross-field
// validation (duplicate entities across groups, group cardinality) is
// deliberately not enforced at intake.
type Submission struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	Payload   json.RawMessage `gorm:"type:jsonb;index:,type:gin" json:"predict"`
	CreatedAt time.Time       `json:"created_at"`
}
