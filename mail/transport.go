// Package mail sends, drafts and searches outreach messages for a single sender mailbox.
package mail

import (
	"context"
	"errors"
	"strings"
	"time"

	"outreach/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNoRecipient     = errors.New("recipient is required")
)

// Message is a sent or drafted message as seen through the mailbox
type Message struct {
	ID         string    `json:"id"` // Message-ID without angle brackets
	ThreadID   string    `json:"thread_id"`
	UID        uint32    `json:"uid,omitempty"`
	Mailbox    string    `json:"mailbox,omitempty"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Cc         []string  `json:"cc,omitempty"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
	IsDraft    bool      `json:"is_draft"`
	References []string  `json:"references,omitempty"`
}

// HasRecipient reports whether email is one of the To addresses
func (m Message) HasRecipient(email string) bool {
	key := models.NormalizeEmail(email)
	if key == "" {
		return false
	}
	for _, to := range m.To {
		if models.NormalizeEmail(to) == key {
			return true
		}
	}
	return false
}

// RecipientContains is the substring match a mailbox search performs
func (m Message) RecipientContains(email string) bool {
	key := models.NormalizeEmail(email)
	if key == "" {
		return false
	}
	for _, to := range m.To {
		if strings.Contains(strings.ToLower(to), key) {
			return true
		}
	}
	return false
}

// Options carries per-message extras
type Options struct {
	FromName    string
	CC          []string
	BCC         []string
	Attachments []string // file paths
}

// Transport is the mailbox a dispatch talks to. Calls are not safe for concurrent use.
type Transport interface {
	// Search returns messages matching q, newest first
	Search(ctx context.Context, q SearchQuery, offset, limit int) ([]Message, error)
	// GetMessageByID returns ErrMessageNotFound when the id is unknown
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	SendNew(ctx context.Context, to, subject, body string, opts Options) (*Message, error)
	CreateDraft(ctx context.Context, to, subject, body string, opts Options) (*Message, error)
	CreateDraftReply(ctx context.Context, original Message, body string, opts Options) (*Message, error)
	RemainingDailyQuota(ctx context.Context) (int, error)
}

// MergeCC joins address lists, dropping blanks and case-insensitive duplicates
func MergeCC(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, addr := range list {
			addr = strings.TrimSpace(addr)
			key := models.NormalizeEmail(addr)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func trimBrackets(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

// ReplySubject prefixes "Re: " unless already present
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}
