package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"outreach/mail"
	"outreach/mail/mailtest"
	"outreach/models"
	"outreach/store"
	"outreach/templates"
	"outreach/threads"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type countingStore struct {
	store.ContactStore
	reads    int
	writes   int
	deletes  int
	writeErr error
}

func (c *countingStore) ReadAll(ctx context.Context) ([]store.Row, error) {
	c.reads++
	return c.ContactStore.ReadAll(ctx)
}

func (c *countingStore) WriteRange(ctx context.Context, updates []store.RowUpdate) error {
	c.writes++
	if c.writeErr != nil {
		return c.writeErr
	}
	return c.ContactStore.WriteRange(ctx, updates)
}

func (c *countingStore) DeleteRows(ctx context.Context, indexes []int) error {
	c.deletes++
	return c.ContactStore.DeleteRows(ctx, indexes)
}

func testCatalog() *templates.Catalog {
	step := func(n int, subject string) models.SequenceStep {
		return models.SequenceStep{StepNumber: n, Template: models.Template{
			Name:    fmt.Sprintf("Step %d", n),
			Subject: subject,
			Body:    "<p>Hi {{firstName}} at {{company}}</p>",
		}}
	}
	return templates.NewCatalog(3,
		models.Sequence{Name: "Demo", StepCount: 3, Steps: []models.SequenceStep{
			step(1, "Hello {{firstName}}"), step(2, ""), step(3, ""),
		}},
		models.Sequence{Name: "Short", StepCount: 1, Steps: []models.SequenceStep{step(1, "Only once")}},
	)
}

func active(email, first string, step int) models.Contact {
	return models.Contact{
		Email:       email,
		FirstName:   first,
		Company:     "Acme",
		Sequence:    "Demo",
		CurrentStep: step,
		Status:      models.StatusActive,
	}
}

func testPipeline(st store.ContactStore, tr *mailtest.Transport, mode Mode) *Pipeline {
	finder := threads.NewFinder(tr, nil)
	finder.Now = func() time.Time { return now }
	p := NewPipeline(st, templates.StaticSource{Catalog: testCatalog()}, tr, finder, Config{
		Mode:       mode,
		GlobalCC:   []string{"team@acme.com"},
		DelayDays:  3,
		Sender:     models.SenderProfile{Name: "Sam", Email: "sam@acme.com"},
		DemoMarker: "@demo.example",
	}, nil)
	p.Now = func() time.Time { return now }
	return p
}

func readContact(t *testing.T, st store.ContactStore, email string) models.Contact {
	t.Helper()
	row, err := st.ReadByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("read %s: %v", email, err)
	}
	return store.ContactFromRow(*row)
}

func TestQuotaPreflightAbortsWholeBatch(t *testing.T) {
	st := &countingStore{ContactStore: store.NewMemoryStore(active("a@x.com", "A", 1), active("b@x.com", "B", 1), active("c@x.com", "C", 1))}
	tr := mailtest.New(2)

	report, err := testPipeline(st, tr, ModeSend).Dispatch(context.Background(), []string{"a@x.com", "b@x.com", "c@x.com"}, Options{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	var pre *PreflightError
	if !errors.As(err, &pre) || pre.Requested != 3 || pre.Remaining != 2 {
		t.Fatalf("expected a preflight error with counts, got %#v", err)
	}
	if report != nil {
		t.Fatalf("no report for an aborted batch")
	}
	if len(tr.Calls) != 0 || st.reads != 0 || st.writes != 0 {
		t.Fatalf("expected zero sends, reads and commits; got %d/%d/%d", len(tr.Calls), st.reads, st.writes)
	}
}

func TestEmptySelectionIsRejected(t *testing.T) {
	st := &countingStore{ContactStore: store.NewMemoryStore()}
	_, err := testPipeline(st, mailtest.New(10), ModeSend).Dispatch(context.Background(), []string{"", "  "}, Options{})
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if st.reads != 0 {
		t.Fatalf("preflight must not read the store")
	}
}

func TestStepOneAdvancesInBothModes(t *testing.T) {
	for _, mode := range []Mode{ModeSend, ModeDraft} {
		st := store.NewMemoryStore(active("a@x.com", "Ada", 1))
		tr := mailtest.New(10)

		report, err := testPipeline(st, tr, mode).Dispatch(context.Background(), []string{"A@x.com"}, Options{})
		if err != nil {
			t.Fatalf("%s: dispatch failed: %v", mode, err)
		}

		method, status := "SendNew", StatusSent
		if mode == ModeDraft {
			method, status = "CreateDraft", StatusDrafted
		}
		calls := tr.CallsTo(method)
		if len(calls) != 1 || len(tr.Calls) != 1 {
			t.Fatalf("%s: expected exactly one %s call, got %+v", mode, method, tr.Calls)
		}
		if calls[0].Subject != "Hello Ada" || calls[0].Body != "<p>Hi Ada at Acme</p>" {
			t.Fatalf("%s: unexpected rendering %+v", mode, calls[0])
		}
		if report.Outcomes[0].Status != status {
			t.Fatalf("%s: expected %s, got %+v", mode, status, report.Outcomes[0])
		}

		c := readContact(t, st, "a@x.com")
		if c.CurrentStep != 2 || c.Status != models.StatusActive {
			t.Fatalf("%s: expected active at step 2, got %s/%d", mode, c.Status, c.CurrentStep)
		}
		if c.LastEmailDate == nil || !c.LastEmailDate.Equal(now) {
			t.Fatalf("%s: expected last email date %v, got %v", mode, now, c.LastEmailDate)
		}
		if want := now.AddDate(0, 0, 3); c.NextStepDate == nil || !c.NextStepDate.Equal(want) {
			t.Fatalf("%s: expected next step %v, got %v", mode, want, c.NextStepDate)
		}
		if c.Step1Subject != "Hello Ada" {
			t.Fatalf("%s: rendered subject must be remembered, got %q", mode, c.Step1Subject)
		}
		if mode == ModeSend && c.Step1MessageID == "" {
			t.Fatalf("sent message id should be cached")
		}
		if mode == ModeDraft && c.Step1MessageID != "" {
			t.Fatalf("a draft id must not be cached as the original")
		}
	}
}

func TestFinalStepCompletes(t *testing.T) {
	b := active("b@x.com", "Bo", 3)
	b.Step1Subject = "Hello Bo"
	st := store.NewMemoryStore(b)
	tr := mailtest.New(10)
	tr.Messages = []mail.Message{{ID: "orig-b", ThreadID: "orig-b", To: []string{"b@x.com"}, Subject: "Hello Bo", Date: now.AddDate(0, 0, -6)}}

	report, err := testPipeline(st, tr, ModeSend).Dispatch(context.Background(), []string{"b@x.com"}, Options{})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if report.Drafted != 1 || !report.Outcomes[0].Completed {
		t.Fatalf("expected one completing draft, got %+v", report.Outcomes)
	}

	c := readContact(t, st, "b@x.com")
	if c.Status != models.StatusCompleted || c.CurrentStep != 3 || c.NextStepDate != nil {
		t.Fatalf("expected completed at step 3 with no next date, got %s/%d/%v", c.Status, c.CurrentStep, c.NextStepDate)
	}
}

func TestFollowUpIsAlwaysDraftReplyWithSenderCC(t *testing.T) {
	c := active("c@x.com", "Cy", 2)
	c.Step1Subject = "Hello Cy"
	st := store.NewMemoryStore(c)
	tr := mailtest.New(10)
	tr.Messages = []mail.Message{{ID: "orig-c", ThreadID: "thread-c", To: []string{"c@x.com"}, Subject: "Hello Cy", Date: now.AddDate(0, 0, -3)}}

	if _, err := testPipeline(st, tr, ModeSend).Dispatch(context.Background(), []string{"c@x.com"}, Options{}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(tr.CallsTo("SendNew")) != 0 {
		t.Fatalf("follow-ups must never be sent")
	}
	replies := tr.CallsTo("CreateDraftReply")
	if len(replies) != 1 || replies[0].Parent == nil || replies[0].Parent.ID != "orig-c" {
		t.Fatalf("expected a draft reply to orig-c, got %+v", replies)
	}
	cc := replies[0].Options.CC
	if len(cc) != 2 || cc[0] != "team@acme.com" || cc[1] != "sam@acme.com" {
		t.Fatalf("expected global CC plus sender, got %v", cc)
	}

	after := readContact(t, st, "c@x.com")
	if after.Step1MessageID != "orig-c" || after.ThreadID != "thread-c" {
		t.Fatalf("discovered thread should be cached, got %q/%q", after.Step1MessageID, after.ThreadID)
	}
	if after.CurrentStep != 3 || after.Step1Subject != "Hello Cy" {
		t.Fatalf("unexpected contact after follow-up: %+v", after)
	}
}

func TestOneReadOneWriteRegardlessOfSize(t *testing.T) {
	for _, n := range []int{1, 500} {
		var contacts []models.Contact
		var selected []string
		for i := 0; i < n; i++ {
			email := fmt.Sprintf("c%d@x.com", i)
			contacts = append(contacts, active(email, "C", 1))
			selected = append(selected, email)
		}
		st := &countingStore{ContactStore: store.NewMemoryStore(contacts...)}
		tr := mailtest.New(n)

		report, err := testPipeline(st, tr, ModeDraft).Dispatch(context.Background(), selected, Options{})
		if err != nil {
			t.Fatalf("%d: dispatch failed: %v", n, err)
		}
		if st.reads != 1 || st.writes != 1 || st.deletes != 0 {
			t.Fatalf("%d contacts: expected 1 read and 1 write, got %d reads, %d writes, %d deletes", n, st.reads, st.writes, st.deletes)
		}
		if report.Drafted != n || report.RowsCommitted != n {
			t.Fatalf("%d contacts: unexpected report %+v", n, report)
		}
	}
}

func TestDemoContactPurgedAfterDispatch(t *testing.T) {
	st := &countingStore{ContactStore: store.NewMemoryStore(active("jane@demo.example", "Jane", 1), active("a@x.com", "Ada", 1))}
	tr := mailtest.New(10)

	report, err := testPipeline(st, tr, ModeDraft).Dispatch(context.Background(), []string{"jane@demo.example", "a@x.com"}, Options{})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if report.Purged != 1 || st.deletes != 1 {
		t.Fatalf("expected one purge call, got purged=%d deletes=%d", report.Purged, st.deletes)
	}

	rows, _ := st.ContactStore.ReadAll(context.Background())
	if len(rows) != 1 {
		t.Fatalf("expected the demo row gone, got %d rows", len(rows))
	}
	if c := store.ContactFromRow(rows[0]); c.Email != "a@x.com" || c.CurrentStep != 2 {
		t.Fatalf("remaining contact should be advanced, got %+v", c)
	}
}

func TestPerContactProblemsNeverStopTheBatch(t *testing.T) {
	later := now.Add(24 * time.Hour)
	paused := active("paused@x.com", "P", 1)
	paused.Status = models.StatusPaused
	waiting := active("waiting@x.com", "W", 1)
	waiting.NextStepDate = &later
	unknown := active("unknown@x.com", "U", 1)
	unknown.Sequence = "Nope"
	orphan := active("orphan@x.com", "O", 2)
	orphan.Step1Subject = "Never sent"

	st := store.NewMemoryStore(paused, waiting, unknown, orphan, active("broken@x.com", "B", 1), active("ok@x.com", "Ok", 1))
	tr := mailtest.New(10)
	tr.FailFor["broken@x.com"] = errors.New("smtp 550")

	var progress []Outcome
	report, err := testPipeline(st, tr, ModeSend).Dispatch(context.Background(),
		[]string{"missing@x.com", "paused@x.com", "waiting@x.com", "unknown@x.com", "orphan@x.com", "broken@x.com", "ok@x.com"},
		Options{Progress: func(o Outcome) { progress = append(progress, o) }})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	want := []Reason{
		ReasonContactNotFound,
		ReasonNotActiveOrNotReady,
		ReasonNotActiveOrNotReady,
		ReasonNoTemplate,
		ReasonOriginalMessageNotFound,
		ReasonTransportFailure,
		"",
	}
	if len(report.Outcomes) != len(want) || len(progress) != len(want) {
		t.Fatalf("expected %d outcomes, got %d (progress %d)", len(want), len(report.Outcomes), len(progress))
	}
	for i, reason := range want {
		if report.Outcomes[i].Reason != reason {
			t.Fatalf("outcome %d: expected %q, got %+v", i, reason, report.Outcomes[i])
		}
	}
	if report.Sent != 1 || report.Failed != 1 || report.Skipped != 5 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if got := report.Summary(); got != "Sent 1, created 0 drafts, failed 1, skipped 5" {
		t.Fatalf("unexpected summary %q", got)
	}

	if c := readContact(t, st, "broken@x.com"); c.CurrentStep != 1 || c.LastEmailDate != nil {
		t.Fatalf("failed contact must not be advanced: %+v", c)
	}
	if c := readContact(t, st, "ok@x.com"); c.CurrentStep != 2 {
		t.Fatalf("ok contact should advance, got step %d", c.CurrentStep)
	}
}

func TestThreadSearchFailureFailsFollowUps(t *testing.T) {
	c := active("c@x.com", "Cy", 2)
	c.Step1Subject = "Hello Cy"
	st := store.NewMemoryStore(c, active("a@x.com", "Ada", 1))
	tr := mailtest.New(10)
	tr.SearchErr = errors.New("imap timeout")

	report, err := testPipeline(st, tr, ModeDraft).Dispatch(context.Background(), []string{"c@x.com", "a@x.com"}, Options{})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if report.Outcomes[0].Reason != ReasonThreadSearchFailed || report.Drafted != 1 {
		t.Fatalf("unexpected report %+v", report.Outcomes)
	}
}

func TestCommitFailureKeepsReport(t *testing.T) {
	st := &countingStore{ContactStore: store.NewMemoryStore(active("a@x.com", "Ada", 1)), writeErr: errors.New("sheet unavailable")}
	tr := mailtest.New(10)

	report, err := testPipeline(st, tr, ModeSend).Dispatch(context.Background(), []string{"a@x.com"}, Options{})
	var commitErr *CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected CommitError, got %v", err)
	}
	if commitErr.Report != report || report.Sent != 1 {
		t.Fatalf("commit error should carry the report of what was sent")
	}
	if c := readContact(t, st, "a@x.com"); c.CurrentStep != 1 {
		t.Fatalf("nothing should be written on commit failure")
	}
}

func TestModeOverrideAppliesToWholeBatch(t *testing.T) {
	st := store.NewMemoryStore(active("a@x.com", "Ada", 1), active("b@x.com", "Bo", 1))
	tr := mailtest.New(10)

	report, err := testPipeline(st, tr, ModeSend).Dispatch(context.Background(), []string{"a@x.com", "b@x.com"}, Options{Mode: ModeDraft})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if report.Mode != ModeDraft || report.Drafted != 2 || len(tr.CallsTo("SendNew")) != 0 {
		t.Fatalf("expected drafts only, got %+v", report)
	}
}

func TestSummaryFormat(t *testing.T) {
	r := &Report{Sent: 3, Drafted: 5, Failed: 2}
	if got := r.Summary(); got != "Sent 3, created 5 drafts, failed 2" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestParseMode(t *testing.T) {
	if m, _ := ParseMode(" SEND "); m != ModeSend {
		t.Fatalf("expected send, got %q", m)
	}
	if _, err := ParseMode("blast"); err == nil {
		t.Fatalf("expected an error for unknown modes")
	}
}
