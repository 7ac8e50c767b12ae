package mail

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// IMAPConfig describes the sender's IMAP account
type IMAPConfig struct {
	Host          string
	Port          int
	Encryption    string // SSL, TLS, STARTTLS or empty
	Username      string
	Password      string
	SentMailbox   string
	DraftsMailbox string
	Timeout       time.Duration
}

// IMAPClient opens a short-lived connection per operation
type IMAPClient struct {
	cfg    IMAPConfig
	tokens oauth2.TokenSource
	logger *logrus.Entry
}

func NewIMAPClient(cfg IMAPConfig, tokens oauth2.TokenSource, logger *logrus.Logger) *IMAPClient {
	if cfg.SentMailbox == "" {
		cfg.SentMailbox = "Sent"
	}
	if cfg.DraftsMailbox == "" {
		cfg.DraftsMailbox = "Drafts"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IMAPClient{cfg: cfg, tokens: tokens, logger: logger.WithField("component", "imap")}
}

// session dials and authenticates. The returned func logs out; cancelling ctx
// drops the connection since the imap client has no context support.
func (ic *IMAPClient) session(ctx context.Context) (*client.Client, func(), error) {
	c, err := ic.dial()
	if err != nil {
		return nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	return c, func() {
		stop()
		c.Logout()
	}, nil
}

func (ic *IMAPClient) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", ic.cfg.Host, ic.cfg.Port)
	tlsConfig := &tls.Config{ServerName: ic.cfg.Host}

	var (
		c   *client.Client
		err error
	)
	switch strings.ToUpper(ic.cfg.Encryption) {
	case "SSL", "TLS":
		c, err = client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err = client.Dial(addr)
		if err == nil {
			if err = c.StartTLS(tlsConfig); err != nil {
				c.Logout()
			}
		}
	default:
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = ic.cfg.Timeout

	if ic.tokens != nil {
		token, err := ic.tokens.Token()
		if err != nil {
			c.Logout()
			return nil, fmt.Errorf("failed to get IMAP access token: %w", err)
		}
		auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: ic.cfg.Username,
			Token:    token.AccessToken,
			Host:     ic.cfg.Host,
			Port:     ic.cfg.Port,
		})
		if err := c.Authenticate(auth); err != nil {
			c.Logout()
			return nil, fmt.Errorf("failed to authenticate to IMAP server: %w", err)
		}
	} else if err := c.Login(ic.cfg.Username, ic.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return c, nil
}

// criteriaFor turns a clause into IMAP SEARCH criteria. HEADER matches substrings,
// so subject words are matched independently and re-checked by the caller.
func criteriaFor(cl Clause) *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	if to := strings.TrimSpace(cl.To); to != "" {
		c.Header.Add("To", to)
	}
	for _, w := range cl.Words() {
		c.Header.Add("Subject", w)
	}
	return c
}

func orCriteria(clauses []Clause) *imap.SearchCriteria {
	if len(clauses) == 1 {
		return criteriaFor(clauses[0])
	}
	c := imap.NewSearchCriteria()
	mid := len(clauses) / 2
	c.Or = [][2]*imap.SearchCriteria{{orCriteria(clauses[:mid]), orCriteria(clauses[mid:])}}
	return c
}

func searchCriteria(q SearchQuery) *imap.SearchCriteria {
	var root *imap.SearchCriteria
	if len(q.Clauses) > 0 {
		root = orCriteria(q.Clauses)
	} else {
		root = imap.NewSearchCriteria()
	}
	if !q.After.IsZero() {
		root.SentSince = q.After
	}
	return root
}

var referencesSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"References", "In-Reply-To"},
	},
	Peek: true,
}

func (ic *IMAPClient) fetch(c *client.Client, mailbox string, uids []uint32) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, referencesSection.FetchItem()}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []Message
	for msg := range messages {
		m, err := toMessage(msg, mailbox)
		if err != nil {
			ic.logger.WithError(err).WithField("uid", msg.Uid).Warn("Skipping unreadable message")
			continue
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %w", err)
	}
	return out, nil
}

func toMessage(msg *imap.Message, mailbox string) (Message, error) {
	if msg.Envelope == nil {
		return Message{}, fmt.Errorf("message %d has no envelope", msg.Uid)
	}
	m := Message{
		ID:      trimBrackets(msg.Envelope.MessageId),
		UID:     msg.Uid,
		Mailbox: mailbox,
		Subject: msg.Envelope.Subject,
		Date:    msg.Envelope.Date,
		From:    joinAddresses(msg.Envelope.From),
		To:      addresses(msg.Envelope.To),
		Cc:      addresses(msg.Envelope.Cc),
	}
	for _, f := range msg.Flags {
		if f == imap.DraftFlag {
			m.IsDraft = true
		}
	}

	if literal := msg.GetBody(referencesSection); literal != nil {
		h, err := textproto.ReadHeader(bufio.NewReader(literal))
		if err == nil {
			for _, ref := range strings.Fields(h.Get("References")) {
				m.References = append(m.References, trimBrackets(ref))
			}
			if len(m.References) == 0 {
				if parent := trimBrackets(h.Get("In-Reply-To")); parent != "" {
					m.References = []string{parent}
				}
			}
		}
	}
	m.ThreadID = threadRoot(m)
	return m, nil
}

// threadRoot is the first Message-ID of the chain, or the message itself
func threadRoot(m Message) string {
	if len(m.References) > 0 {
		return m.References[0]
	}
	return m.ID
}

func addresses(list []*imap.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a == nil || a.MailboxName == "" {
			continue
		}
		out = append(out, a.MailboxName+"@"+a.HostName)
	}
	return out
}

func joinAddresses(list []*imap.Address) string {
	return strings.Join(addresses(list), ", ")
}

// Search runs one UID SEARCH over the sent mailbox
func (ic *IMAPClient) Search(ctx context.Context, q SearchQuery, offset, limit int) ([]Message, error) {
	c, release, err := ic.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := c.Select(ic.cfg.SentMailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", ic.cfg.SentMailbox, err)
	}
	uids, err := c.UidSearch(searchCriteria(q))
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	// newest first; UIDs grow with arrival order
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	uids = page(uids, offset, limit)

	messages, err := ic.fetch(c, ic.cfg.SentMailbox, uids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Date.After(messages[j].Date) })

	ic.logger.WithFields(logrus.Fields{
		"clauses": len(q.Clauses),
		"matches": len(messages),
	}).Debug("Sent mailbox searched")
	return messages, nil
}

func page(uids []uint32, offset, limit int) []uint32 {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(uids) {
		return nil
	}
	uids = uids[offset:]
	if limit > 0 && limit < len(uids) {
		uids = uids[:limit]
	}
	return uids
}

// GetMessageByID looks in the sent mailbox, then drafts
func (ic *IMAPClient) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	id = trimBrackets(id)
	if id == "" {
		return nil, ErrMessageNotFound
	}
	c, release, err := ic.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	for _, mailbox := range []string{ic.cfg.SentMailbox, ic.cfg.DraftsMailbox} {
		if _, err := c.Select(mailbox, true); err != nil {
			return nil, fmt.Errorf("failed to select mailbox %s: %w", mailbox, err)
		}
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", id)
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return nil, fmt.Errorf("failed to search messages: %w", err)
		}
		messages, err := ic.fetch(c, mailbox, uids)
		if err != nil {
			return nil, err
		}
		for i := range messages {
			if messages[i].ID != id {
				continue
			}
			if mailbox == ic.cfg.DraftsMailbox {
				messages[i].IsDraft = true
			}
			return &messages[i], nil
		}
	}
	return nil, ErrMessageNotFound
}

// Append stores a raw message in a mailbox with the given flags
func (ic *IMAPClient) Append(ctx context.Context, mailbox string, flags []string, raw []byte) error {
	c, release, err := ic.session(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := c.Append(mailbox, flags, time.Now(), bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", mailbox, err)
	}
	return nil
}

func (ic *IMAPClient) AppendDraft(ctx context.Context, raw []byte) error {
	return ic.Append(ctx, ic.cfg.DraftsMailbox, []string{imap.DraftFlag, imap.SeenFlag}, raw)
}

func (ic *IMAPClient) AppendSent(ctx context.Context, raw []byte) error {
	return ic.Append(ctx, ic.cfg.SentMailbox, []string{imap.SeenFlag}, raw)
}
