package store

import (
	"context"
	"fmt"
	"sort"

	"outreach/models"
)

// Batch accumulates row changes against one snapshot of the sheet and
// writes them back with a single WriteRange call.
type Batch struct {
	snapshot      map[int]Row
	pending       map[int]map[Column]string
	checkVersions bool
}

// NewBatch starts a batch over rows read at the beginning of a run.
// With checkVersions set, every update carries the snapshot row version.
func NewBatch(snapshot []Row, checkVersions bool) *Batch {
	b := &Batch{
		snapshot:      make(map[int]Row, len(snapshot)),
		pending:       make(map[int]map[Column]string),
		checkVersions: checkVersions,
	}
	for _, r := range snapshot {
		b.snapshot[r.Index] = r
	}
	return b
}

// Stage records the cells that differ between before and after.
// Repeated stages for the same row merge, later values winning.
func (b *Batch) Stage(before, after models.Contact) {
	changed := Diff(before, after)
	if len(changed) == 0 {
		return
	}
	cols, ok := b.pending[before.RowIndex]
	if !ok {
		cols = make(map[Column]string, len(changed))
		b.pending[before.RowIndex] = cols
	}
	for col, v := range changed {
		cols[col] = v
	}
}

// Len is the number of rows with pending changes
func (b *Batch) Len() int {
	return len(b.pending)
}

// Updates returns the pending changes ordered by row
func (b *Batch) Updates() []RowUpdate {
	indexes := make([]int, 0, len(b.pending))
	for idx := range b.pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	updates := make([]RowUpdate, 0, len(indexes))
	for _, idx := range indexes {
		u := RowUpdate{RowIndex: idx, Columns: b.pending[idx]}
		if b.checkVersions {
			u.ExpectedVersion = b.snapshot[idx].Version
		}
		updates = append(updates, u)
	}
	return updates
}

// Commit writes every pending change in one call. An empty batch writes nothing.
func (b *Batch) Commit(ctx context.Context, st ContactStore) error {
	if len(b.pending) == 0 {
		return nil
	}
	for idx := range b.pending {
		if _, ok := b.snapshot[idx]; !ok {
			return fmt.Errorf("row %d is not part of the batch snapshot: %w", idx, ErrRowOutOfRange)
		}
	}
	if err := st.WriteRange(ctx, b.Updates()); err != nil {
		return err
	}
	b.pending = make(map[int]map[Column]string)
	return nil
}
