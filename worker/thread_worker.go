package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/store"
	"outreach/threads"
	"outreach/utils"
)

// ThreadWorker fills in missing step-1 message references ahead of time so
// follow-up dispatches can skip the mailbox search.
type ThreadWorker struct {
	store    store.ContactStore
	finder   *threads.Finder
	interval time.Duration
	budget   time.Duration
	// MaxContacts bounds one run
	MaxContacts   int
	CheckVersions bool
	logger        *logrus.Entry
}

func NewThreadWorker(st store.ContactStore, finder *threads.Finder, interval, budget time.Duration, logger *logrus.Logger) *ThreadWorker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ThreadWorker{
		store:       st,
		finder:      finder,
		interval:    interval,
		budget:      budget,
		MaxContacts: 200,
		logger:      logger.WithField("component", "thread_worker"),
	}
}

func (tw *ThreadWorker) Start(ctx context.Context) {
	if tw.interval <= 0 {
		tw.logger.Info("Thread worker disabled")
		return
	}
	tw.logger.WithField("interval", tw.interval).Info("Starting thread worker...")
	ticker := time.NewTicker(tw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := tw.RunOnce(ctx); err != nil {
				utils.LogError("thread_worker", err, nil)
			}
		case <-ctx.Done():
			tw.logger.Info("Stopping thread worker...")
			return
		}
	}
}

// needsThread reports whether a follow-up contact lacks a cached reference
func needsThread(c *models.Contact) bool {
	if c.Status != models.StatusActive || c.CurrentStep <= 1 || c.Step1Subject == "" {
		return false
	}
	return c.Step1MessageID == "" || c.ThreadID == ""
}

// RunOnce resolves references for up to MaxContacts contacts within the
// budget and commits what it found in one write.
func (tw *ThreadWorker) RunOnce(ctx context.Context) (int, error) {
	if tw.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tw.budget)
		defer cancel()
	}

	rows, err := tw.store.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read contacts: %w", err)
	}

	byKey := make(map[string]models.Contact)
	var pending []models.Contact
	for _, row := range rows {
		c := store.ContactFromRow(row)
		if !needsThread(&c) {
			continue
		}
		if _, dup := byKey[c.Key()]; dup {
			continue
		}
		byKey[c.Key()] = c
		pending = append(pending, c)
		if tw.MaxContacts > 0 && len(pending) >= tw.MaxContacts {
			break
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	res, searchErr := tw.finder.FindOriginalMessages(ctx, pending)
	if res == nil {
		return 0, searchErr
	}

	batch := store.NewBatch(rows, tw.CheckVersions)
	for _, d := range res.Discoveries {
		before, ok := byKey[d.Email]
		if !ok {
			continue
		}
		after := before
		after.Step1MessageID = d.MessageID
		after.ThreadID = d.ThreadID
		batch.Stage(before, after)
	}
	found := batch.Len()
	// commit discoveries even when the budget ran out
	if err := batch.Commit(context.WithoutCancel(ctx), tw.store); err != nil {
		return 0, fmt.Errorf("failed to cache thread references: %w", err)
	}

	tw.logger.WithFields(logrus.Fields{
		"candidates": len(pending),
		"searched":   res.Searched,
		"cached":     found,
	}).Info("Thread references refreshed")
	return found, searchErr
}
