package templates

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"outreach/models"
)

type fileCatalog struct {
	Sequences []fileSequence `yaml:"sequences"`
}

type fileSequence struct {
	Name        string     `yaml:"name"`
	Steps       int        `yaml:"steps"`
	Attachments []string   `yaml:"attachments"`
	Templates   []fileStep `yaml:"templates"`
}

type fileStep struct {
	Step    int    `yaml:"step"`
	Name    string `yaml:"name"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// FileSource reads sequences from a YAML file on every Load, so edits apply
// to the next dispatch without a restart.
type FileSource struct {
	Path           string
	DefaultCeiling int
}

func NewFileSource(path string, defaultCeiling int) *FileSource {
	return &FileSource{Path: path, DefaultCeiling: defaultCeiling}
}

func (s *FileSource) Load(ctx context.Context) (*Catalog, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sequences file: %w", err)
	}
	return ParseCatalog(raw, s.DefaultCeiling)
}

// ParseCatalog decodes the YAML sequence format
func ParseCatalog(raw []byte, defaultCeiling int) (*Catalog, error) {
	var doc fileCatalog
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid sequences file: %w", err)
	}

	sequences := make([]models.Sequence, 0, len(doc.Sequences))
	for i, fs := range doc.Sequences {
		if fs.Name == "" {
			return nil, fmt.Errorf("sequence %d has no name", i+1)
		}
		seq := models.Sequence{Name: fs.Name, StepCount: fs.Steps}
		if seq.StepCount == 0 {
			seq.StepCount = defaultCeiling
		}
		for _, st := range fs.Templates {
			if st.Step < 1 || st.Step > models.MaxSequenceSteps {
				return nil, fmt.Errorf("sequence %q: step %d out of range", fs.Name, st.Step)
			}
			seq.Steps = append(seq.Steps, models.SequenceStep{
				StepNumber: st.Step,
				Template:   models.Template{Name: st.Name, Subject: st.Subject, Body: st.Body},
			})
		}
		for _, path := range fs.Attachments {
			seq.Attachments = append(seq.Attachments, models.SequenceAttachment{FileName: path, Path: path})
		}
		sequences = append(sequences, seq)
	}
	return NewCatalog(defaultCeiling, sequences...), nil
}
