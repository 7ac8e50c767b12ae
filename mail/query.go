package mail

import (
	"strings"
	"time"
)

// Clause matches messages sent to one recipient with a subject
type Clause struct {
	To      string
	Subject string
}

// SearchQuery is a disjunction of clauses over messages sent after a date
type SearchQuery struct {
	After   time.Time
	Clauses []Clause
}

// characters that break mailbox search syntax
var defangReplacer = strings.NewReplacer(
	`"`, " ", `'`, " ", `(`, " ", `)`, " ", `{`, " ", `}`, " ",
	`[`, " ", `]`, " ", `<`, " ", `>`, " ", `:`, " ", `\`, " ",
	`*`, " ", `-`, " ", `|`, " ", `+`, " ", `~`, " ",
)

// Defang turns query-breaking characters into whitespace and collapses runs of it.
// It is only used to build queries, never to rewrite stored subjects.
func Defang(s string) string {
	return strings.Join(strings.Fields(defangReplacer.Replace(s)), " ")
}

// Words returns the defanged subject split into search terms
func (c Clause) Words() []string {
	return strings.Fields(Defang(c.Subject))
}

// String renders the query in Gmail search syntax
func (q SearchQuery) String() string {
	var b strings.Builder
	if !q.After.IsZero() {
		b.WriteString("after:")
		b.WriteString(q.After.Format("2006/01/02"))
	}
	parts := make([]string, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		var p []string
		if to := strings.TrimSpace(c.To); to != "" {
			p = append(p, "to:"+to)
		}
		if words := Defang(c.Subject); words != "" {
			p = append(p, `subject:"`+words+`"`)
		}
		if len(p) > 0 {
			parts = append(parts, "("+strings.Join(p, " ")+")")
		}
	}
	if len(parts) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		if len(parts) > 1 {
			b.WriteString("{" + strings.Join(parts, " ") + "}")
		} else {
			b.WriteString(parts[0])
		}
	}
	return b.String()
}
