package mail

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Backend is the IMAP side of a mailbox
type Backend interface {
	Search(ctx context.Context, q SearchQuery, offset, limit int) ([]Message, error)
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	AppendDraft(ctx context.Context, raw []byte) error
	AppendSent(ctx context.Context, raw []byte) error
}

// Deliverer is the SMTP side of a mailbox
type Deliverer interface {
	Send(ctx context.Context, m *gomail.Message) error
}

// Mailbox implements Transport over SMTP delivery and an IMAP store
type Mailbox struct {
	backend  Backend
	smtp     Deliverer
	quota    *Quota
	composer Composer
	saveSent bool
	logger   *logrus.Entry
}

type MailboxOptions struct {
	Composer Composer
	// SaveSent appends a copy of every sent message to the sent mailbox,
	// for servers that do not do it on submission.
	SaveSent bool
	Logger   *logrus.Logger
}

func NewMailbox(backend Backend, smtp Deliverer, quota *Quota, opts MailboxOptions) *Mailbox {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Mailbox{
		backend:  backend,
		smtp:     smtp,
		quota:    quota,
		composer: opts.Composer,
		saveSent: opts.SaveSent,
		logger:   logger.WithField("component", "mailbox"),
	}
}

func (mb *Mailbox) Search(ctx context.Context, q SearchQuery, offset, limit int) ([]Message, error) {
	return mb.backend.Search(ctx, q, offset, limit)
}

func (mb *Mailbox) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	return mb.backend.GetMessageByID(ctx, id)
}

func (mb *Mailbox) SendNew(ctx context.Context, to, subject, body string, opts Options) (*Message, error) {
	m, msg, err := mb.composer.Compose(to, subject, body, opts, nil)
	if err != nil {
		return nil, err
	}
	if err := mb.smtp.Send(ctx, m); err != nil {
		return nil, err
	}
	if err := mb.quota.Counter.Add(ctx, 1); err != nil {
		mb.logger.WithError(err).Warn("Failed to record quota usage")
	}
	if mb.saveSent {
		if raw, err := Raw(m); err == nil {
			if err := mb.backend.AppendSent(ctx, raw); err != nil {
				mb.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to copy message to sent mailbox")
			}
		}
	}
	return &msg, nil
}

func (mb *Mailbox) CreateDraft(ctx context.Context, to, subject, body string, opts Options) (*Message, error) {
	m, msg, err := mb.composer.Compose(to, subject, body, opts, nil)
	if err != nil {
		return nil, err
	}
	return mb.saveDraft(ctx, m, msg)
}

// CreateDraftReply drafts a reply to the original's recipients inside its thread
func (mb *Mailbox) CreateDraftReply(ctx context.Context, original Message, body string, opts Options) (*Message, error) {
	if len(original.To) == 0 {
		return nil, ErrNoRecipient
	}
	m, msg, err := mb.composer.Compose(original.To[0], ReplySubject(original.Subject), body, opts, &original)
	if err != nil {
		return nil, err
	}
	return mb.saveDraft(ctx, m, msg)
}

func (mb *Mailbox) saveDraft(ctx context.Context, m *gomail.Message, msg Message) (*Message, error) {
	raw, err := Raw(m)
	if err != nil {
		return nil, err
	}
	if err := mb.backend.AppendDraft(ctx, raw); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	msg.IsDraft = true
	return &msg, nil
}

func (mb *Mailbox) RemainingDailyQuota(ctx context.Context) (int, error) {
	return mb.quota.Remaining(ctx)
}
