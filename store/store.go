// Package store is the adapter over the shared, positionally indexed contact sheet.
//
// The sheet is edited concurrently by people and by dispatches. Nothing here
// locks rows: writes are last-write-wins unless an update carries an
// ExpectedVersion, in which case the whole write is rejected with
// ErrRowConflict when any targeted row changed since it was read.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrContactNotFound = errors.New("contact not found")
	ErrRowConflict     = errors.New("row changed since it was read")
	ErrRowOutOfRange   = errors.New("row index out of range")
)

// ConflictError names the row that failed the version check
type ConflictError struct {
	RowIndex        int
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("row %d: expected version %d, found %d", e.RowIndex, e.ExpectedVersion, e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRowConflict
}

// RowUpdate sets a group of cells on one row
type RowUpdate struct {
	RowIndex int
	Columns  map[Column]string

	// Zero disables the version check for this row
	ExpectedVersion int64
}

// ContactStore is the narrow interface the pipeline needs from the sheet
type ContactStore interface {
	ReadAll(ctx context.Context) ([]Row, error)
	ReadByEmail(ctx context.Context, email string) (*Row, error)
	// WriteRange applies every update in a single call.
	WriteRange(ctx context.Context, updates []RowUpdate) error
	AppendRow(ctx context.Context, cells []string) (Row, error)
	// DeleteRows removes rows; later rows shift up.
	DeleteRows(ctx context.Context, indexes []int) error
}
