package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach/models"
)

// GormStore keeps the sheet in the contact_rows table, ordered by row_index
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) ReadAll(ctx context.Context) ([]Row, error) {
	var records []models.ContactRow
	if err := s.db.WithContext(ctx).Order("row_index asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read contact rows: %w", err)
	}
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = toRow(rec)
	}
	return rows, nil
}

func (s *GormStore) ReadByEmail(ctx context.Context, email string) (*Row, error) {
	var rec models.ContactRow
	err := s.db.WithContext(ctx).
		Where("email = ?", models.NormalizeEmail(email)).
		Order("row_index asc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contact row: %w", err)
	}
	row := toRow(rec)
	return &row, nil
}

func (s *GormStore) WriteRange(ctx context.Context, updates []RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(updates))
	for _, u := range updates {
		indexes = append(indexes, u.RowIndex)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []models.ContactRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("row_index IN ?", indexes).
			Find(&records).Error; err != nil {
			return fmt.Errorf("failed to load rows for update: %w", err)
		}
		byIndex := make(map[int]*models.ContactRow, len(records))
		for i := range records {
			byIndex[records[i].RowIndex] = &records[i]
		}

		for _, u := range updates {
			rec, ok := byIndex[u.RowIndex]
			if !ok {
				return fmt.Errorf("row %d: %w", u.RowIndex, ErrRowOutOfRange)
			}
			if u.ExpectedVersion != 0 && rec.Version != u.ExpectedVersion {
				return &ConflictError{RowIndex: u.RowIndex, ExpectedVersion: u.ExpectedVersion, CurrentVersion: rec.Version}
			}
			cells := make([]string, NumColumns)
			copy(cells, rec.Cells)
			for col, value := range u.Columns {
				cells[col] = value
			}

			res := tx.Model(rec).
				Where("version = ?", rec.Version).
				Select("cells", "email", "version").
				Updates(models.ContactRow{
					Cells:   cells,
					Email:   models.NormalizeEmail(cells[ColEmail]),
					Version: rec.Version + 1,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to write row %d: %w", u.RowIndex, res.Error)
			}
			if err := checkWritten(u, rec, res.RowsAffected); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) AppendRow(ctx context.Context, cells []string) (Row, error) {
	padded := make([]string, NumColumns)
	copy(padded, cells)

	var rec models.ContactRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int
		if err := tx.Model(&models.ContactRow{}).
			Select("COALESCE(MAX(row_index), -1) + 1").
			Scan(&next).Error; err != nil {
			return err
		}
		rec = models.ContactRow{
			RowIndex: next,
			Version:  1,
			Email:    models.NormalizeEmail(padded[ColEmail]),
			Cells:    padded,
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return Row{}, fmt.Errorf("failed to append contact row: %w", err)
	}
	return toRow(rec), nil
}

func (s *GormStore) DeleteRows(ctx context.Context, indexes []int) error {
	if len(indexes) == 0 {
		return nil
	}
	sorted := append([]int(nil), indexes...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("row_index IN ?", sorted).Delete(&models.ContactRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete rows: %w", err)
		}
		// Shift from the bottom up so each pass sees the original positions
		last := -1
		for _, idx := range sorted {
			if idx == last {
				continue
			}
			if err := tx.Model(&models.ContactRow{}).
				Where("row_index > ?", idx).
				Update("row_index", gorm.Expr("row_index - 1")).Error; err != nil {
				return fmt.Errorf("failed to compact rows after %d: %w", idx, err)
			}
			last = idx
		}
		return nil
	})
}

// checkWritten fails a write that matched no row, whatever the version mode.
// The rows are locked, so this only trips when the row vanished or moved.
func checkWritten(u RowUpdate, rec *models.ContactRow, affected int64) error {
	if affected > 0 {
		return nil
	}
	expected := u.ExpectedVersion
	if expected == 0 {
		expected = rec.Version
	}
	return &ConflictError{RowIndex: u.RowIndex, ExpectedVersion: expected, CurrentVersion: -1}
}

func toRow(rec models.ContactRow) Row {
	cells := make([]string, NumColumns)
	copy(cells, rec.Cells)
	return Row{Index: rec.RowIndex, Version: rec.Version, Cells: cells}
}
