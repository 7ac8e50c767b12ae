package models

import "gorm.io/gorm"

// Template represents the subject and body of one sequence step
type Template struct {
	gorm.Model

	Name    string `gorm:"not null" json:"name"`
	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"` // HTML with {{placeholders}}

	// Category
	Category string `json:"category"`
}
