package models

import (
	"strings"
	"time"
)

// ContactStatus is the lifecycle state of a contact inside its sequence
type ContactStatus string

const (
	StatusActive       ContactStatus = "Active"
	StatusPaused       ContactStatus = "Paused"
	StatusCompleted    ContactStatus = "Completed"
	StatusUnsubscribed ContactStatus = "Unsubscribed"
)

func (s ContactStatus) String() string { return string(s) }

func (s ContactStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusUnsubscribed:
		return true
	}
	return false
}

// IsTerminal reports whether step and schedule are frozen
func (s ContactStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusUnsubscribed
}

// ParseStatus maps a stored cell to a status, defaulting to Active for blanks
func ParseStatus(raw string) ContactStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "active":
		return StatusActive
	case "paused":
		return StatusPaused
	case "completed":
		return StatusCompleted
	case "unsubscribed":
		return StatusUnsubscribed
	}
	return ContactStatus(strings.TrimSpace(raw))
}

// Contact is one row of the shared contact sheet
type Contact struct {
	// Position in the backing store. Owned by the store.
	RowIndex int   `json:"row_index"`
	Version  int64 `json:"version"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	Title     string `json:"title"`
	Industry  string `json:"industry"`
	Notes     string `json:"notes"`
	Priority  string `json:"priority"`
	Tags      string `json:"tags"`

	// Sequence state
	Sequence      string        `json:"sequence"`
	CurrentStep   int           `json:"current_step"`
	Status        ContactStatus `json:"status"`
	LastEmailDate *time.Time    `json:"last_email_date"`
	NextStepDate  *time.Time    `json:"next_step_date"`

	// Thread memory
	Step1Subject   string `json:"step1_subject"`
	Step1MessageID string `json:"step1_message_id"`
	ThreadID       string `json:"thread_id"`

	// Call tracking, reset on every step change
	Phone        string `json:"phone"`
	PhoneCalled  bool   `json:"phone_called"`
	Mobile       string `json:"mobile"`
	MobileCalled bool   `json:"mobile_called"`

	Labeled       bool       `json:"labeled"`
	LastReplyDate *time.Time `json:"last_reply_date"`
}

// NormalizeEmail is the case-insensitive key used everywhere contacts are matched
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Key returns the normalized email
func (c *Contact) Key() string {
	return NormalizeEmail(c.Email)
}

// IsReady reports whether the contact is due for its next send
func (c *Contact) IsReady(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	return c.NextStepDate == nil || !now.Before(*c.NextStepDate)
}

// ResetCallFlags clears the per-step call tracking
func (c *Contact) ResetCallFlags() {
	c.PhoneCalled = false
	c.MobileCalled = false
}

// FullName joins first and last name
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// IsDemo reports whether the email carries the demo marker
func (c *Contact) IsDemo(marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(c.Key(), strings.ToLower(marker))
}
