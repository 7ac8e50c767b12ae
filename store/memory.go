package store

import (
	"context"
	"sort"
	"sync"

	"outreach/models"
)

// MemoryStore keeps the sheet in process. Used for local runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows [][]string
	vers []int64
}

func NewMemoryStore(contacts ...models.Contact) *MemoryStore {
	s := &MemoryStore{}
	for _, c := range contacts {
		s.rows = append(s.rows, Cells(c))
		s.vers = append(s.vers, 1)
	}
	return s
}

func (s *MemoryStore) ReadAll(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]Row, len(s.rows))
	for i := range s.rows {
		rows[i] = s.rowLocked(i)
	}
	return rows, nil
}

func (s *MemoryStore) ReadByEmail(ctx context.Context, email string) (*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := models.NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cells := range s.rows {
		if models.NormalizeEmail(cells[ColEmail]) == key {
			row := s.rowLocked(i)
			return &row, nil
		}
	}
	return nil, ErrContactNotFound
}

func (s *MemoryStore) WriteRange(ctx context.Context, updates []RowUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// validate everything before touching anything
	for _, u := range updates {
		if u.RowIndex < 0 || u.RowIndex >= len(s.rows) {
			return ErrRowOutOfRange
		}
		if u.ExpectedVersion != 0 && s.vers[u.RowIndex] != u.ExpectedVersion {
			return &ConflictError{RowIndex: u.RowIndex, ExpectedVersion: u.ExpectedVersion, CurrentVersion: s.vers[u.RowIndex]}
		}
	}
	for _, u := range updates {
		for col, value := range u.Columns {
			s.rows[u.RowIndex][col] = value
		}
		s.vers[u.RowIndex]++
	}
	return nil
}

func (s *MemoryStore) AppendRow(ctx context.Context, cells []string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	padded := make([]string, NumColumns)
	copy(padded, cells)
	s.rows = append(s.rows, padded)
	s.vers = append(s.vers, 1)
	return s.rowLocked(len(s.rows) - 1), nil
}

func (s *MemoryStore) DeleteRows(ctx context.Context, indexes []int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, idx := range indexes {
		if idx < 0 || idx >= len(s.rows) {
			return ErrRowOutOfRange
		}
	}
	sorted := append([]int(nil), indexes...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	last := -1
	for _, idx := range sorted {
		if idx == last {
			continue
		}
		s.rows = append(s.rows[:idx], s.rows[idx+1:]...)
		s.vers = append(s.vers[:idx], s.vers[idx+1:]...)
		last = idx
	}
	return nil
}

func (s *MemoryStore) rowLocked(i int) Row {
	cells := make([]string, NumColumns)
	copy(cells, s.rows[i])
	return Row{Index: i, Version: s.vers[i], Cells: cells}
}
