// Package templates resolves the subject and body for a sequence step.
package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"outreach/models"
)

var ErrTemplateNotFound = errors.New("template not found")

// Template is the resolved content of one step
type Template struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sequenceEntry struct {
	name        string
	ceiling     int
	steps       map[int]Template
	attachments []string
}

// Catalog is an immutable snapshot of all sequences, loaded once per dispatch
type Catalog struct {
	sequences      map[string]*sequenceEntry
	defaultCeiling int
}

// Summary describes a sequence for listing
type Summary struct {
	Name        string `json:"name"`
	StepCeiling int    `json:"step_ceiling"`
	Steps       []int  `json:"steps"`
	Attachments int    `json:"attachments"`
}

func sequenceKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > models.MaxSequenceSteps {
		return models.MaxSequenceSteps
	}
	return n
}

// NewCatalog builds a catalog from sequences with their steps and attachments populated
func NewCatalog(defaultCeiling int, sequences ...models.Sequence) *Catalog {
	c := &Catalog{
		sequences:      make(map[string]*sequenceEntry, len(sequences)),
		defaultCeiling: clamp(defaultCeiling),
	}
	for _, seq := range sequences {
		entry := &sequenceEntry{
			name:    seq.Name,
			ceiling: clamp(seq.StepCount),
			steps:   make(map[int]Template, len(seq.Steps)),
		}
		for _, step := range seq.Steps {
			entry.steps[step.StepNumber] = Template{
				Name:    step.Template.Name,
				Subject: step.Template.Subject,
				Body:    step.Template.Body,
			}
		}
		for _, a := range seq.Attachments {
			entry.attachments = append(entry.attachments, a.Path)
		}
		c.sequences[sequenceKey(seq.Name)] = entry
	}
	return c
}

// ResolveTemplate returns the template for a sequence step
func (c *Catalog) ResolveTemplate(sequence string, step int) (Template, error) {
	entry, ok := c.sequences[sequenceKey(sequence)]
	if !ok {
		return Template{}, fmt.Errorf("%w: unknown sequence %q", ErrTemplateNotFound, sequence)
	}
	if step < 1 || step > entry.ceiling {
		return Template{}, fmt.Errorf("%w: %s has no step %d", ErrTemplateNotFound, entry.name, step)
	}
	tpl, ok := entry.steps[step]
	if !ok || (strings.TrimSpace(tpl.Subject) == "" && strings.TrimSpace(tpl.Body) == "") {
		return Template{}, fmt.Errorf("%w: %s step %d", ErrTemplateNotFound, entry.name, step)
	}
	return tpl, nil
}

// StepCeiling returns the configured step count of a sequence.
// Unknown sequences use the default ceiling.
func (c *Catalog) StepCeiling(sequence string) int {
	if entry, ok := c.sequences[sequenceKey(sequence)]; ok {
		return entry.ceiling
	}
	return c.defaultCeiling
}

// Attachments returns the file paths attached to new messages of a sequence
func (c *Catalog) Attachments(sequence string) []string {
	entry, ok := c.sequences[sequenceKey(sequence)]
	if !ok {
		return nil
	}
	return append([]string(nil), entry.attachments...)
}

func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.sequences))
	for _, entry := range c.sequences {
		s := Summary{Name: entry.name, StepCeiling: entry.ceiling, Attachments: len(entry.attachments)}
		for n := range entry.steps {
			s.Steps = append(s.Steps, n)
		}
		sort.Ints(s.Steps)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Source loads a fresh catalog
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// GormSource reads sequences, steps and templates from the database
type GormSource struct {
	DB             *gorm.DB
	DefaultCeiling int
}

func NewGormSource(db *gorm.DB, defaultCeiling int) *GormSource {
	return &GormSource{DB: db, DefaultCeiling: defaultCeiling}
}

func (s *GormSource) Load(ctx context.Context) (*Catalog, error) {
	var sequences []models.Sequence
	err := s.DB.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number ASC")
		}).
		Preload("Steps.Template").
		Preload("Attachments").
		Find(&sequences).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sequences: %w", err)
	}
	return NewCatalog(s.DefaultCeiling, sequences...), nil
}

// StaticSource always returns the same catalog
type StaticSource struct {
	Catalog *Catalog
}

func (s StaticSource) Load(ctx context.Context) (*Catalog, error) {
	return s.Catalog, nil
}
