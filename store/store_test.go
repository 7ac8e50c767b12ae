package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"outreach/models"
)

func contact(email string, step int) models.Contact {
	return models.Contact{
		FirstName:   "Ada",
		Email:       email,
		Sequence:    "Demo",
		CurrentStep: step,
		Status:      models.StatusActive,
	}
}

func TestContactFromRowDefaults(t *testing.T) {
	row := Row{Index: 4, Cells: []string{"Ada", "Lovelace", " ADA@x.com "}}
	c := ContactFromRow(row)

	if c.RowIndex != 4 {
		t.Fatalf("expected row index 4, got %d", c.RowIndex)
	}
	if c.Email != "ADA@x.com" || c.Key() != "ada@x.com" {
		t.Fatalf("unexpected email %q key %q", c.Email, c.Key())
	}
	if c.CurrentStep != 1 {
		t.Fatalf("blank step should default to 1, got %d", c.CurrentStep)
	}
	if c.Status != models.StatusActive {
		t.Fatalf("blank status should default to Active, got %s", c.Status)
	}
	if c.NextStepDate != nil {
		t.Fatalf("expected no next step date")
	}
}

func TestContactFromRowParsesSheetDates(t *testing.T) {
	cells := make([]string, NumColumns)
	cells[ColNextStepDate] = "2026-03-04"
	cells[ColPhoneCalled] = "TRUE"
	c := ContactFromRow(Row{Cells: cells})

	if c.NextStepDate == nil || !c.NextStepDate.Equal(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next step date %v", c.NextStepDate)
	}
	if !c.PhoneCalled {
		t.Fatalf("expected phone called flag")
	}
}

func TestDiffOnlyChangedCells(t *testing.T) {
	before := contact("a@x.com", 1)
	after := before
	after.CurrentStep = 2
	after.Step1Subject = "Hello"

	changed := Diff(before, after)
	if len(changed) != 2 {
		t.Fatalf("expected 2 changed cells, got %v", changed)
	}
	if changed[ColCurrentStep] != "2" || changed[ColStep1Subject] != "Hello" {
		t.Fatalf("unexpected diff %v", changed)
	}
}

func TestMemoryStoreReadByEmailCaseInsensitive(t *testing.T) {
	st := NewMemoryStore(contact("a@x.com", 1), contact("B@X.com", 2))

	row, err := st.ReadByEmail(context.Background(), "b@x.COM")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if row.Index != 1 {
		t.Fatalf("expected row 1, got %d", row.Index)
	}

	if _, err := st.ReadByEmail(context.Background(), "zz@x.com"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
}

func TestMemoryStoreDeleteRowsShiftsIndexes(t *testing.T) {
	st := NewMemoryStore(contact("a@x.com", 1), contact("b@x.com", 1), contact("c@x.com", 1), contact("d@x.com", 1))

	if err := st.DeleteRows(context.Background(), []int{2, 0, 2}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	rows, _ := st.ReadAll(context.Background())
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Cell(ColEmail) != "b@x.com" || rows[1].Cell(ColEmail) != "d@x.com" {
		t.Fatalf("unexpected remaining rows: %q %q", rows[0].Cell(ColEmail), rows[1].Cell(ColEmail))
	}
	if rows[1].Index != 1 {
		t.Fatalf("expected compacted index 1, got %d", rows[1].Index)
	}

	if err := st.DeleteRows(context.Background(), []int{0, 9}); !errors.Is(err, ErrRowOutOfRange) {
		t.Fatalf("expected ErrRowOutOfRange, got %v", err)
	}
	rows, _ = st.ReadAll(context.Background())
	if len(rows) != 2 {
		t.Fatalf("failed delete must not remove rows, have %d", len(rows))
	}
}

func TestBatchCommitWritesOnce(t *testing.T) {
	st := NewMemoryStore(contact("a@x.com", 1), contact("b@x.com", 1))
	counting := &countingStore{ContactStore: st}
	rows, _ := st.ReadAll(context.Background())

	batch := NewBatch(rows, false)
	for _, r := range rows {
		before := ContactFromRow(r)
		after := before
		after.CurrentStep = 2
		batch.Stage(before, after)
	}
	if batch.Len() != 2 {
		t.Fatalf("expected 2 pending rows, got %d", batch.Len())
	}
	if err := batch.Commit(context.Background(), counting); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if counting.writes != 1 {
		t.Fatalf("expected exactly one write, got %d", counting.writes)
	}
	after, _ := st.ReadAll(context.Background())
	for _, r := range after {
		if r.Cell(ColCurrentStep) != "2" {
			t.Fatalf("row %d not committed", r.Index)
		}
	}
}

func TestBatchEmptyCommitSkipsWrite(t *testing.T) {
	st := &countingStore{ContactStore: NewMemoryStore(contact("a@x.com", 1))}
	if err := NewBatch(nil, false).Commit(context.Background(), st); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if st.writes != 0 {
		t.Fatalf("expected no writes, got %d", st.writes)
	}
}

func TestBatchVersionConflictRejectsWholeWrite(t *testing.T) {
	st := NewMemoryStore(contact("a@x.com", 1), contact("b@x.com", 1))
	rows, _ := st.ReadAll(context.Background())

	// Someone edits row 1 after our read
	if err := st.WriteRange(context.Background(), []RowUpdate{{RowIndex: 1, Columns: map[Column]string{ColNotes: "called"}}}); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}

	batch := NewBatch(rows, true)
	for _, r := range rows {
		before := ContactFromRow(r)
		after := before
		after.CurrentStep = 3
		batch.Stage(before, after)
	}
	err := batch.Commit(context.Background(), st)
	if !errors.Is(err, ErrRowConflict) {
		t.Fatalf("expected ErrRowConflict, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.RowIndex != 1 {
		t.Fatalf("expected conflict on row 1, got %v", err)
	}

	current, _ := st.ReadAll(context.Background())
	if current[0].Cell(ColCurrentStep) != "1" {
		t.Fatalf("row 0 must not be written on conflict")
	}
	if current[1].Cell(ColNotes) != "called" {
		t.Fatalf("concurrent edit lost")
	}
}

func TestCheckWrittenRejectsUnmatchedUpdate(t *testing.T) {
	rec := &models.ContactRow{RowIndex: 4, Version: 7}

	if err := checkWritten(RowUpdate{RowIndex: 4}, rec, 1); err != nil {
		t.Fatalf("a matched write should pass, got %v", err)
	}
	for _, u := range []RowUpdate{{RowIndex: 4}, {RowIndex: 4, ExpectedVersion: 7}} {
		err := checkWritten(u, rec, 0)
		if !errors.Is(err, ErrRowConflict) {
			t.Fatalf("expected ErrRowConflict for %+v, got %v", u, err)
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) || conflict.RowIndex != 4 || conflict.ExpectedVersion != 7 {
			t.Fatalf("unexpected conflict %+v", conflict)
		}
	}
}

type countingStore struct {
	ContactStore
	reads  int
	writes int
}

func (c *countingStore) ReadAll(ctx context.Context) ([]Row, error) {
	c.reads++
	return c.ContactStore.ReadAll(ctx)
}

func (c *countingStore) WriteRange(ctx context.Context, updates []RowUpdate) error {
	c.writes++
	return c.ContactStore.WriteRange(ctx, updates)
}
