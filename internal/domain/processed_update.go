package domain

import "time"

// ProcessedUpdate remembers a chat transport update id that was already
// handled, so redelivered webhooks are ignored until ExpiresAt.
type ProcessedUpdate struct {
	UpdateID  int64     `gorm:"primaryKey;autoIncrement:false"`
	ChatID    int64     `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedUpdate) TableName() string { return "processed_updates" }
