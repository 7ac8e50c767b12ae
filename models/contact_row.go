package models

import "time"

// ContactRow is the persisted form of one sheet row. Cells follow the store schema.
type ContactRow struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	RowIndex  int       `gorm:"not null;index" json:"row_index"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	Email     string    `gorm:"index" json:"email"` // normalized, for lookups
	Cells     []string  `gorm:"type:jsonb;serializer:json" json:"cells"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
