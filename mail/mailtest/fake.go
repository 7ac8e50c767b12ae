// Package mailtest provides an in-memory mail.Transport for tests.
package mailtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outreach/mail"
)

// Call records one transport call
type Call struct {
	Method  string
	To      string
	Subject string
	Body    string
	Options mail.Options
	Parent  *mail.Message
}

// Transport records calls and serves lookups from Messages
type Transport struct {
	mu sync.Mutex

	Messages []mail.Message
	Quota    int

	// FailFor makes sends and drafts to these recipients fail
	FailFor   map[string]error
	SearchErr error

	Calls    []Call
	Searches []mail.SearchQuery
	Lookups  []string

	now func() time.Time
	seq int
}

func New(quota int) *Transport {
	return &Transport{Quota: quota, FailFor: map[string]error{}, now: time.Now}
}

func (t *Transport) Search(ctx context.Context, q mail.SearchQuery, offset, limit int) ([]mail.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Searches = append(t.Searches, q)
	if t.SearchErr != nil {
		return nil, t.SearchErr
	}
	// loose like a real mailbox search: any recipient in the query matches
	var out []mail.Message
	for _, m := range t.Messages {
		for _, c := range q.Clauses {
			if m.RecipientContains(c.To) && (q.After.IsZero() || !m.Date.Before(q.After)) {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

func (t *Transport) GetMessageByID(ctx context.Context, id string) (*mail.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Lookups = append(t.Lookups, id)
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			m := t.Messages[i]
			return &m, nil
		}
	}
	return nil, mail.ErrMessageNotFound
}

func (t *Transport) record(method, to, subject, body string, opts mail.Options, parent *mail.Message) (*mail.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, Call{Method: method, To: to, Subject: subject, Body: body, Options: opts, Parent: parent})
	if err, ok := t.FailFor[to]; ok {
		return nil, err
	}
	t.seq++
	id := fmt.Sprintf("msg-%d@test", t.seq)
	m := mail.Message{ID: id, ThreadID: id, To: []string{to}, Subject: subject, Date: t.now(), IsDraft: method != "SendNew"}
	if parent != nil {
		m.ThreadID = parent.ThreadID
	}
	if method == "SendNew" {
		t.Quota--
	}
	t.Messages = append(t.Messages, m)
	return &m, nil
}

func (t *Transport) SendNew(ctx context.Context, to, subject, body string, opts mail.Options) (*mail.Message, error) {
	return t.record("SendNew", to, subject, body, opts, nil)
}

func (t *Transport) CreateDraft(ctx context.Context, to, subject, body string, opts mail.Options) (*mail.Message, error) {
	return t.record("CreateDraft", to, subject, body, opts, nil)
}

func (t *Transport) CreateDraftReply(ctx context.Context, original mail.Message, body string, opts mail.Options) (*mail.Message, error) {
	to := ""
	if len(original.To) > 0 {
		to = original.To[0]
	}
	return t.record("CreateDraftReply", to, mail.ReplySubject(original.Subject), body, opts, &original)
}

func (t *Transport) RemainingDailyQuota(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Quota, nil
}

// CallsTo returns the recorded calls of one method
func (t *Transport) CallsTo(method string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
