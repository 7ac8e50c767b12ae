// Package selection recovers which contacts a user actually selected.
//
// Checkbox forms only report fields that are on. A page that starts fully
// checked cannot tell "nothing touched" apart from "everything unchecked",
// so "select all" writes a baseline that the next submission reconciles
// against: with a baseline, only absences matter.
package selection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"outreach/models"
)

// FieldPrefix marks per-contact checkbox fields. The value is the contact email.
const FieldPrefix = "contact_"

// FieldName returns the checkbox field name for an email
func FieldName(email string) string {
	return FieldPrefix + models.NormalizeEmail(email)
}

// Set is a set of normalized emails
type Set map[string]struct{}

func NewSet(emails ...string) Set {
	s := make(Set, len(emails))
	for _, e := range emails {
		if key := models.NormalizeEmail(e); key != "" {
			s[key] = struct{}{}
		}
	}
	return s
}

func (s Set) Has(email string) bool {
	_, ok := s[models.NormalizeEmail(email)]
	return ok
}

// Sorted returns the members in lexical order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Ordered returns the members following the order of hint, then the rest sorted
func (s Set) Ordered(hint []string) []string {
	out := make([]string, 0, len(s))
	seen := make(map[string]struct{}, len(s))
	for _, e := range hint {
		key := models.NormalizeEmail(e)
		if _, ok := s[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, e := range s.Sorted() {
		if _, ok := seen[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// Fields is a submitted form: field name to values
type Fields map[string][]string

// Reconcile computes the selection from a submission and an optional baseline.
// It is pure; consuming the baseline is the caller's job.
func Reconcile(fields Fields, baseline *models.SelectionBaseline) Set {
	if baseline != nil && baseline.SelectAll {
		present := make(Set, len(fields))
		for name := range fields {
			if strings.HasPrefix(name, FieldPrefix) {
				present[models.NormalizeEmail(strings.TrimPrefix(name, FieldPrefix))] = struct{}{}
			}
		}
		selected := NewSet(baseline.ContactsOnPage...)
		for email := range selected {
			if !present.Has(email) {
				delete(selected, email)
			}
		}
		return selected
	}

	selected := make(Set)
	for name, values := range fields {
		if !strings.HasPrefix(name, FieldPrefix) {
			continue
		}
		for _, v := range values {
			if key := models.NormalizeEmail(v); key != "" {
				selected[key] = struct{}{}
			}
		}
	}
	return selected
}

// Reconciler resolves selections against the baseline stored for a session
type Reconciler struct {
	baselines BaselineStore
}

func NewReconciler(baselines BaselineStore) *Reconciler {
	return &Reconciler{baselines: baselines}
}

// Resolve consumes the session baseline, if any, and reconciles the submission.
// With no baseline it falls back to the fields alone.
func (r *Reconciler) Resolve(ctx context.Context, session string, fields Fields) (Set, *models.SelectionBaseline, error) {
	baseline, err := r.baselines.Take(ctx, session)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read selection baseline: %w", err)
	}
	return Reconcile(fields, baseline), baseline, nil
}

// Remember stores the baseline captured by a select-all or deselect-all action
func (r *Reconciler) Remember(ctx context.Context, session string, baseline models.SelectionBaseline) error {
	baseline.ContactsOnPage = NewSet(baseline.ContactsOnPage...).Ordered(baseline.ContactsOnPage)
	return r.baselines.Set(ctx, session, baseline)
}

// Forget drops the baseline after a filter or page change
func (r *Reconciler) Forget(ctx context.Context, session string) error {
	return r.baselines.Clear(ctx, session)
}
