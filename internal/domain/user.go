package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is created or refreshed on the first successful OTP verification
// for a phone number.
type User struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Phone       string     `gorm:"size:32;uniqueIndex;not null" json:"phone"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	Sessions    []Session    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Submissions []Submission `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Results     []Result     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
