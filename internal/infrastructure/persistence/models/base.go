package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel provides the id and timestamp columns shared by feedsync tables.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Touch stamps UpdatedAt, and CreatedAt when the row is new.
func (m *BaseModel) Touch(now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}
