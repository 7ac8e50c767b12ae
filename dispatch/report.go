package dispatch

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusSent    Status = "sent"
	StatusDrafted Status = "drafted"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

type Reason string

const (
	ReasonContactNotFound         Reason = "ContactNotFound"
	ReasonNotActiveOrNotReady     Reason = "NotActiveOrNotReady"
	ReasonNoTemplate              Reason = "NoTemplate"
	ReasonOriginalMessageNotFound Reason = "OriginalMessageNotFound"
	ReasonThreadSearchFailed      Reason = "ThreadSearchFailed"
	ReasonRenderFailed            Reason = "RenderFailed"
	ReasonTransportFailure        Reason = "TransportFailure"
)

// Outcome is the result for one selected contact
type Outcome struct {
	Email     string `json:"email"`
	Status    Status `json:"status"`
	Reason    Reason `json:"reason,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Step      int    `json:"step,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

func (o Outcome) Message() string {
	if o.Detail == "" {
		return fmt.Sprintf("%s: %s", o.Email, o.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", o.Email, o.Reason, o.Detail)
}

// Report aggregates one dispatch
type Report struct {
	Mode      Mode      `json:"mode"`
	Requested int       `json:"requested"`
	Sent      int       `json:"sent"`
	Drafted   int       `json:"drafted"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`

	RowsCommitted   int    `json:"rows_committed"`
	ThreadsSearched int    `json:"threads_searched"`
	Purged          int    `json:"purged"`
	PurgeError      string `json:"purge_error,omitempty"`
}

func (r *Report) add(o Outcome) {
	switch o.Status {
	case StatusSent:
		r.Sent++
	case StatusDrafted:
		r.Drafted++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// Summary is the one-line result shown to the user
func (r *Report) Summary() string {
	parts := []string{
		fmt.Sprintf("Sent %d", r.Sent),
		"created " + plural(r.Drafted, "draft", "drafts"),
		fmt.Sprintf("failed %d", r.Failed),
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("skipped %d", r.Skipped))
	}
	return strings.Join(parts, ", ")
}

// Problems returns the first n skip and failure messages in selection order
func (r *Report) Problems(n int) []string {
	var out []string
	for _, o := range r.Outcomes {
		if len(out) >= n {
			break
		}
		if o.Status == StatusSkipped || o.Status == StatusFailed {
			out = append(out, o.Message())
		}
	}
	return out
}
