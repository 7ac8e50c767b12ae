// Package threads finds the step-1 message each follow-up must reply into.
package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/mail"
	"outreach/models"
)

const (
	DefaultLookback = 90 * 24 * time.Hour
	DefaultPageSize = 500
)

// Discovery is a message reference to cache on a contact
type Discovery struct {
	Email     string
	MessageID string
	ThreadID  string
}

// Result maps normalized emails to their original message
type Result struct {
	Matches     map[string]mail.Message
	Discoveries []Discovery
	// Searched is the number of contacts that needed the mailbox search
	Searched int
}

func (r *Result) Match(email string) (mail.Message, bool) {
	if r == nil {
		return mail.Message{}, false
	}
	m, ok := r.Matches[models.NormalizeEmail(email)]
	return m, ok
}

// Finder resolves original messages in batch with at most one search call
type Finder struct {
	Transport mail.Transport
	Lookback  time.Duration
	PageSize  int
	Now       func() time.Time
	Logger    *logrus.Entry
}

func NewFinder(transport mail.Transport, logger *logrus.Logger) *Finder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Finder{
		Transport: transport,
		Lookback:  DefaultLookback,
		PageSize:  DefaultPageSize,
		Now:       time.Now,
		Logger:    logger.WithField("component", "thread_discovery"),
	}
}

func (f *Finder) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

// FindOriginalMessages validates cached message ids first, then runs one
// combined search for everything else. A search error is returned together
// with the matches found so far.
func (f *Finder) FindOriginalMessages(ctx context.Context, contacts []models.Contact) (*Result, error) {
	res := &Result{Matches: make(map[string]mail.Message)}

	var pending []models.Contact
	seen := make(map[string]struct{}, len(contacts))
	for _, c := range contacts {
		key := c.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if c.Step1MessageID != "" {
			if m, ok := f.lookupCached(ctx, c); ok {
				res.Matches[key] = m
				if m.ThreadID != "" && m.ThreadID != c.ThreadID {
					res.Discoveries = append(res.Discoveries, Discovery{Email: key, MessageID: m.ID, ThreadID: m.ThreadID})
				}
				continue
			}
		}
		if c.Step1Subject != "" {
			pending = append(pending, c)
		}
	}

	if len(pending) == 0 {
		return res, nil
	}
	res.Searched = len(pending)

	q := mail.SearchQuery{After: f.now().Add(-f.lookback())}
	bySubject := make(map[string][]models.Contact)
	for _, c := range pending {
		q.Clauses = append(q.Clauses, mail.Clause{To: c.Key(), Subject: c.Step1Subject})
		bySubject[c.Step1Subject] = append(bySubject[c.Step1Subject], c)
	}

	candidates, err := f.Transport.Search(ctx, q, 0, f.pageSize())
	if err != nil {
		return res, fmt.Errorf("thread search failed: %w", err)
	}

	found := make(map[string]mail.Message)
	for _, m := range candidates {
		if m.IsDraft {
			continue
		}
		// the search is loose; only exact subjects and exact recipients count
		for _, c := range bySubject[m.Subject] {
			if !m.HasRecipient(c.Email) {
				continue
			}
			key := c.Key()
			if prev, ok := found[key]; ok && !m.Date.After(prev.Date) {
				continue
			}
			found[key] = m
		}
	}

	for _, c := range pending {
		key := c.Key()
		m, ok := found[key]
		if !ok {
			continue
		}
		res.Matches[key] = m
		if m.ID != c.Step1MessageID || m.ThreadID != c.ThreadID {
			res.Discoveries = append(res.Discoveries, Discovery{Email: key, MessageID: m.ID, ThreadID: m.ThreadID})
		}
	}

	f.Logger.WithFields(logrus.Fields{
		"contacts":   len(contacts),
		"searched":   len(pending),
		"candidates": len(candidates),
		"matched":    len(res.Matches),
	}).Info("Thread discovery finished")
	return res, nil
}

func (f *Finder) lookupCached(ctx context.Context, c models.Contact) (mail.Message, bool) {
	m, err := f.Transport.GetMessageByID(ctx, c.Step1MessageID)
	if err != nil {
		if !errors.Is(err, mail.ErrMessageNotFound) {
			f.Logger.WithError(err).WithField("email", c.Key()).Warn("Cached message lookup failed, falling back to search")
		}
		return mail.Message{}, false
	}
	if m == nil || m.IsDraft || !m.HasRecipient(c.Email) {
		return mail.Message{}, false
	}
	return *m, true
}

func (f *Finder) lookback() time.Duration {
	if f.Lookback <= 0 {
		return DefaultLookback
	}
	return f.Lookback
}

func (f *Finder) pageSize() int {
	if f.PageSize <= 0 {
		return DefaultPageSize
	}
	return f.PageSize
}
