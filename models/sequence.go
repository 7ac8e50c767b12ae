package models

import "gorm.io/gorm"

const MaxSequenceSteps = 5

// Sequence represents a named outreach sequence of up to five steps
type Sequence struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"`
	Description string `json:"description"`

	// Step ceiling, 1-5
	StepCount int `gorm:"not null;default:3" json:"step_count"`

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Attachments []SequenceAttachment `gorm:"foreignKey:SequenceID" json:"attachments,omitempty"`
}

// SequenceStep represents steps in an email sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	StepNumber int `gorm:"not null" json:"step_number"`

	// Tracking
	SentCount int `gorm:"default:0" json:"sent_count"`

	// Relations
	Template Template `json:"template"`
}

// SequenceAttachment is a file sent along with every step-1 message of a sequence
type SequenceAttachment struct {
	gorm.Model
	SequenceID uint   `gorm:"not null;index" json:"sequence_id"`
	FileName   string `gorm:"not null" json:"file_name"`
	Path       string `gorm:"not null" json:"path"`
}
