package mail

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"outreach/models"
)

// Composer builds RFC 5322 messages for the sender
type Composer struct {
	Sender models.SenderProfile
	Now    func() time.Time
}

func (c Composer) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// NewMessageID returns an id without angle brackets
func (c Composer) NewMessageID() string {
	domain := "localhost"
	if at := strings.LastIndex(c.Sender.Email, "@"); at >= 0 && at < len(c.Sender.Email)-1 {
		domain = c.Sender.Email[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

// Compose builds the outgoing message. A non-nil parent makes it a reply in the parent's thread.
func (c Composer) Compose(to, subject, body string, opts Options, parent *Message) (*gomail.Message, Message, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, Message{}, ErrNoRecipient
	}

	id := c.NewMessageID()
	date := c.now()
	fromName := opts.FromName
	if fromName == "" {
		fromName = c.Sender.Name
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", c.Sender.Email, fromName)
	m.SetHeader("To", to)
	if cc := MergeCC(opts.CC); len(cc) > 0 {
		m.SetHeader("Cc", cc...)
	}
	if bcc := MergeCC(opts.BCC); len(bcc) > 0 {
		m.SetHeader("Bcc", bcc...)
	}
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", "<"+id+">")
	m.SetDateHeader("Date", date)
	m.SetHeader("X-Mailer", "Outreach/1.0")

	msg := Message{
		ID:       id,
		ThreadID: id,
		From:     c.Sender.Email,
		To:       []string{to},
		Cc:       MergeCC(opts.CC),
		Subject:  subject,
		Date:     date,
	}

	if parent != nil {
		refs := append([]string(nil), parent.References...)
		refs = append(refs, parent.ID)
		bracketed := make([]string, 0, len(refs))
		for _, r := range refs {
			if r = trimBrackets(r); r != "" {
				bracketed = append(bracketed, "<"+r+">")
			}
		}
		m.SetHeader("In-Reply-To", "<"+parent.ID+">")
		m.SetHeader("References", strings.Join(bracketed, " "))
		msg.References = refs
		msg.ThreadID = parent.ThreadID
		if msg.ThreadID == "" {
			msg.ThreadID = threadRoot(*parent)
		}
	}

	m.SetBody("text/html", body)
	for _, path := range opts.Attachments {
		if strings.TrimSpace(path) != "" {
			m.Attach(path)
		}
	}
	return m, msg, nil
}

// Raw serializes a message for IMAP APPEND
func Raw(m *gomail.Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return buf.Bytes(), nil
}
