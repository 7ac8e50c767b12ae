// Package sequence holds the step/status transitions of a contact.
package sequence

import (
	"errors"
	"time"

	"outreach/models"
)

var (
	ErrNotActive           = errors.New("contact is not active")
	ErrTerminal            = errors.New("contact is completed or unsubscribed")
	ErrAlreadyAtCeiling    = errors.New("contact is already at the last step of its sequence")
	ErrAlreadyCompleted    = errors.New("contact is already completed")
	ErrAlreadyUnsubscribed = errors.New("contact is already unsubscribed")
	ErrNotPaused           = errors.New("contact is not paused")
)

// Ceilings reports the number of steps configured for a sequence
type Ceilings interface {
	StepCeiling(sequence string) int
}

// CeilingFunc adapts a function to Ceilings
type CeilingFunc func(sequence string) int

func (f CeilingFunc) StepCeiling(sequence string) int { return f(sequence) }

// Machine applies transitions in place on a contact
type Machine struct {
	Ceilings  Ceilings
	DelayDays int
	Now       func() time.Time
}

func NewMachine(ceilings Ceilings, delayDays int) *Machine {
	return &Machine{Ceilings: ceilings, DelayDays: delayDays, Now: time.Now}
}

func (m *Machine) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// Ceiling is the step ceiling of the contact's own sequence, clamped to 1-5
func (m *Machine) Ceiling(c *models.Contact) int {
	return ClampCeiling(m.Ceilings.StepCeiling(c.Sequence))
}

// ClampCeiling keeps a configured step count inside 1..MaxSequenceSteps
func ClampCeiling(n int) int {
	if n < 1 {
		return 1
	}
	if n > models.MaxSequenceSteps {
		return models.MaxSequenceSteps
	}
	return n
}

func (m *Machine) nextDate() *time.Time {
	next := m.now().AddDate(0, 0, m.DelayDays)
	return &next
}

// Advance moves an active contact to its next step after a send.
// Stepping past the ceiling completes the contact instead.
func (m *Machine) Advance(c *models.Contact) error {
	if c.Status != models.StatusActive {
		return ErrNotActive
	}
	ceiling := m.Ceiling(c)
	next := c.CurrentStep + 1
	c.ResetCallFlags()
	if next > ceiling {
		c.CurrentStep = ceiling
		c.Status = models.StatusCompleted
		c.NextStepDate = nil
		return nil
	}
	c.CurrentStep = next
	c.NextStepDate = m.nextDate()
	return nil
}

// ManualAdvance moves an active contact one step without a send. It never completes.
func (m *Machine) ManualAdvance(c *models.Contact) error {
	if c.Status.IsTerminal() {
		return ErrTerminal
	}
	if c.Status != models.StatusActive {
		return ErrNotActive
	}
	if c.CurrentStep >= m.Ceiling(c) {
		return ErrAlreadyAtCeiling
	}
	c.CurrentStep++
	c.NextStepDate = m.nextDate()
	c.ResetCallFlags()
	return nil
}

// Complete ends the sequence for a contact
func (m *Machine) Complete(c *models.Contact) error {
	if c.Status == models.StatusCompleted {
		return ErrAlreadyCompleted
	}
	c.Status = models.StatusCompleted
	c.NextStepDate = nil
	c.ResetCallFlags()
	return nil
}

// Unsubscribe ends the sequence and marks the contact as opted out
func (m *Machine) Unsubscribe(c *models.Contact) error {
	if c.Status == models.StatusUnsubscribed {
		return ErrAlreadyUnsubscribed
	}
	c.Status = models.StatusUnsubscribed
	c.NextStepDate = nil
	c.ResetCallFlags()
	return nil
}

func (m *Machine) Pause(c *models.Contact) error {
	if c.Status != models.StatusActive {
		return ErrNotActive
	}
	c.Status = models.StatusPaused
	return nil
}

func (m *Machine) Resume(c *models.Contact) error {
	if c.Status != models.StatusPaused {
		return ErrNotPaused
	}
	c.Status = models.StatusActive
	return nil
}
