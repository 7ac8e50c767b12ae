// Package dispatch sends or drafts the next step for a batch of selected contacts.
//
// A dispatch reads the sheet once, processes contacts one at a time in
// selection order and writes every resulting row change back in one call.
// Per-contact problems end up in the Report and never stop the batch.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/mail"
	"outreach/models"
	"outreach/sequence"
	"outreach/store"
	"outreach/templates"
	"outreach/threads"
)

// Mode decides whether step-1 messages are sent or drafted
type Mode string

const (
	ModeSend  Mode = "send"
	ModeDraft Mode = "draft"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeSend:
		return ModeSend, nil
	case ModeDraft, "":
		return ModeDraft, nil
	}
	return "", fmt.Errorf("unknown dispatch mode %q", raw)
}

type Config struct {
	Mode       Mode
	GlobalCC   []string
	DelayDays  int
	Sender     models.SenderProfile
	Signature  templates.Signature
	DemoMarker string
	// CheckVersions rejects the commit when a row changed since the batch read it
	CheckVersions bool
}

// Options are per-call settings
type Options struct {
	// Mode overrides the configured mode for the whole batch
	Mode Mode
	// Progress is called after each contact
	Progress func(Outcome)
}

type Pipeline struct {
	Store     store.ContactStore
	Templates templates.Source
	Transport mail.Transport
	Finder    *threads.Finder
	Config    Config
	Now       func() time.Time
	Logger    *logrus.Entry
}

func NewPipeline(st store.ContactStore, src templates.Source, transport mail.Transport, finder *threads.Finder, cfg Config, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDraft
	}
	return &Pipeline{
		Store:     st,
		Templates: src,
		Transport: transport,
		Finder:    finder,
		Config:    cfg,
		Now:       time.Now,
		Logger:    logger.WithField("component", "dispatch"),
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// run is the state of one dispatch
type run struct {
	now       time.Time
	mode      Mode
	catalog   *templates.Catalog
	machine   *sequence.Machine
	threads   *threads.Result
	threadErr error

	rows     []store.Row
	byKey    map[string]int
	original map[string]models.Contact
	current  map[string]models.Contact
	done     map[string]bool
}

func uniqueEmails(selected []string) []string {
	out := make([]string, 0, len(selected))
	seen := make(map[string]struct{}, len(selected))
	for _, e := range selected {
		key := models.NormalizeEmail(e)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Dispatch processes the selected emails in order and commits the results
func (p *Pipeline) Dispatch(ctx context.Context, selected []string, opts Options) (*Report, error) {
	emails := uniqueEmails(selected)
	if len(emails) == 0 {
		return nil, &PreflightError{Reason: ErrEmptySelection}
	}

	remaining, err := p.Transport.RemainingDailyQuota(ctx)
	if err != nil {
		return nil, &PreflightError{Reason: ErrQuotaUnavailable, Requested: len(emails), Err: err}
	}
	if len(emails) > remaining {
		return nil, &PreflightError{Reason: ErrQuotaExceeded, Requested: len(emails), Remaining: remaining}
	}

	mode := opts.Mode
	if mode == "" {
		mode = p.Config.Mode
	}
	report := &Report{Mode: mode, Requested: len(emails)}

	r, err := p.load(ctx, mode)
	if err != nil {
		return nil, err
	}

	p.discoverThreads(ctx, r, emails)
	if r.threads != nil {
		report.ThreadsSearched = r.threads.Searched
	}

	for _, email := range emails {
		o := p.process(ctx, r, email)
		report.add(o)
		if opts.Progress != nil {
			opts.Progress(o)
		}
	}

	batch := store.NewBatch(r.rows, p.Config.CheckVersions)
	for key, after := range r.current {
		batch.Stage(r.original[key], after)
	}
	report.RowsCommitted = batch.Len()
	if err := batch.Commit(ctx, p.Store); err != nil {
		p.Logger.WithError(err).WithField("rows", report.RowsCommitted).Error("Dispatch commit failed")
		return report, &CommitError{Err: err, Report: report}
	}

	p.purgeDemo(ctx, r, report)

	p.Logger.WithFields(logrus.Fields{
		"mode":     mode,
		"selected": len(emails),
		"sent":     report.Sent,
		"drafted":  report.Drafted,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
		"rows":     report.RowsCommitted,
	}).Info("Dispatch finished")
	return report, nil
}

// load reads the sheet and the catalog once for the whole batch
func (p *Pipeline) load(ctx context.Context, mode Mode) (*run, error) {
	rows, err := p.Store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts: %w", err)
	}
	catalog, err := p.Templates.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := p.now()
	machine := sequence.NewMachine(catalog, p.Config.DelayDays)
	machine.Now = func() time.Time { return now }

	r := &run{
		now:      now,
		mode:     mode,
		catalog:  catalog,
		machine:  machine,
		rows:     rows,
		byKey:    make(map[string]int, len(rows)),
		original: make(map[string]models.Contact),
		current:  make(map[string]models.Contact),
		done:     make(map[string]bool),
	}
	for i, row := range rows {
		key := models.NormalizeEmail(row.Cell(store.ColEmail))
		if key == "" {
			continue
		}
		if _, dup := r.byKey[key]; !dup {
			r.byKey[key] = i
		}
	}
	return r, nil
}

func (r *run) contact(key string) (models.Contact, bool) {
	if c, ok := r.current[key]; ok {
		return c, true
	}
	i, ok := r.byKey[key]
	if !ok {
		return models.Contact{}, false
	}
	c := store.ContactFromRow(r.rows[i])
	r.original[key] = c
	return c, true
}

func (r *run) eligible(c models.Contact) bool {
	return c.Status == models.StatusActive && c.IsReady(r.now)
}

// discoverThreads resolves originals for every eligible follow-up in one pass
// and caches newly found references on the contacts.
func (p *Pipeline) discoverThreads(ctx context.Context, r *run, emails []string) {
	var followUps []models.Contact
	for _, key := range emails {
		c, ok := r.contact(key)
		if !ok || !r.eligible(c) || c.CurrentStep <= 1 {
			continue
		}
		followUps = append(followUps, c)
	}
	if len(followUps) == 0 || p.Finder == nil {
		return
	}

	res, err := p.Finder.FindOriginalMessages(ctx, followUps)
	r.threads = res
	if err != nil {
		r.threadErr = err
		p.Logger.WithError(err).Warn("Thread discovery failed")
	}
	if res == nil {
		return
	}
	for _, d := range res.Discoveries {
		c, ok := r.contact(d.Email)
		if !ok {
			continue
		}
		c.Step1MessageID = d.MessageID
		c.ThreadID = d.ThreadID
		r.current[d.Email] = c
	}
}

func skipped(email string, reason Reason, detail string) Outcome {
	return Outcome{Email: email, Status: StatusSkipped, Reason: reason, Detail: detail}
}

func failed(email string, reason Reason, err error) Outcome {
	return Outcome{Email: email, Status: StatusFailed, Reason: reason, Detail: err.Error()}
}

func (p *Pipeline) process(ctx context.Context, r *run, email string) Outcome {
	c, ok := r.contact(email)
	if !ok {
		return skipped(email, ReasonContactNotFound, "")
	}
	if !r.eligible(c) {
		return skipped(email, ReasonNotActiveOrNotReady, string(c.Status))
	}

	tpl, err := r.catalog.ResolveTemplate(c.Sequence, c.CurrentStep)
	if err != nil {
		return skipped(email, ReasonNoTemplate, err.Error())
	}
	rendered := templates.RenderFor(tpl, c, p.Config.Sender, p.Config.Signature)

	step := c.CurrentStep
	var (
		msg    *mail.Message
		status Status
	)
	if step == 1 {
		if rendered.Subject == "" {
			return failed(email, ReasonRenderFailed, fmt.Errorf("template %q renders an empty subject", tpl.Name))
		}
		opts := mail.Options{
			FromName:    p.Config.Sender.Name,
			CC:          mail.MergeCC(p.Config.GlobalCC),
			Attachments: r.catalog.Attachments(c.Sequence),
		}
		if r.mode == ModeSend {
			msg, err = p.Transport.SendNew(ctx, c.Email, rendered.Subject, rendered.Body, opts)
			status = StatusSent
		} else {
			msg, err = p.Transport.CreateDraft(ctx, c.Email, rendered.Subject, rendered.Body, opts)
			status = StatusDrafted
		}
		if err != nil {
			p.Logger.WithError(err).WithField("email", email).Warn("Step 1 message failed")
			return failed(email, ReasonTransportFailure, err)
		}
		c.Step1Subject = rendered.Subject
		if status == StatusSent {
			c.Step1MessageID = msg.ID
			c.ThreadID = msg.ThreadID
		} else {
			// a draft is not a sent original; discovery will find it once sent
			c.Step1MessageID = ""
			c.ThreadID = ""
		}
	} else {
		original, ok := r.threads.Match(email)
		if !ok {
			if r.threadErr != nil {
				return failed(email, ReasonThreadSearchFailed, r.threadErr)
			}
			return skipped(email, ReasonOriginalMessageNotFound, c.Step1Subject)
		}
		opts := mail.Options{
			FromName: p.Config.Sender.Name,
			CC:       mail.MergeCC(p.Config.GlobalCC, []string{p.Config.Sender.Email}),
		}
		msg, err = p.Transport.CreateDraftReply(ctx, original, rendered.Body, opts)
		if err != nil {
			p.Logger.WithError(err).WithField("email", email).Warn("Draft reply failed")
			return failed(email, ReasonTransportFailure, err)
		}
		status = StatusDrafted
	}

	sentAt := r.now
	c.LastEmailDate = &sentAt
	if err := r.machine.Advance(&c); err != nil {
		return failed(email, ReasonTransportFailure, err)
	}
	r.current[email] = c
	r.done[email] = true

	return Outcome{
		Email:     email,
		Status:    status,
		Step:      step,
		MessageID: msg.ID,
		Completed: c.Status == models.StatusCompleted,
	}
}

// purgeDemo deletes demo contacts that got a message, in one call
func (p *Pipeline) purgeDemo(ctx context.Context, r *run, report *Report) {
	if p.Config.DemoMarker == "" {
		return
	}
	var indexes []int
	for key := range r.done {
		c := r.current[key]
		if c.IsDemo(p.Config.DemoMarker) {
			indexes = append(indexes, c.RowIndex)
		}
	}
	if len(indexes) == 0 {
		return
	}
	if err := p.Store.DeleteRows(ctx, indexes); err != nil {
		report.PurgeError = err.Error()
		p.Logger.WithError(err).Warn("Failed to purge demo contacts")
		return
	}
	report.Purged = len(indexes)
}
