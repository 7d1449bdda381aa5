package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session binds a user to a pair of independent bcrypt token hashes.
// The two hashes are digests of two independently generated random
// tokens; neither plaintext is ever persisted. ExpiresAt is fixed at
// creation to createdAt + refreshTtl and is never extended by refresh
// (only AccessHash rotates in place).
type Session struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	AccessHash  string    `gorm:"size:60;index;not null" json:"-"`
	RefreshHash string    `gorm:"size:60;index;not null" json:"-"`
	UserAgent   string    `gorm:"size:512" json:"user_agent,omitempty"`
	Address     string    `gorm:"size:64" json:"address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
}
