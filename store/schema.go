package store

import (
	"strconv"
	"strings"
	"time"

	"outreach/models"
)

// Column is a fixed position in a contact row
type Column int

const (
	ColFirstName Column = iota
	ColLastName
	ColEmail
	ColCompany
	ColTitle
	ColCurrentStep
	ColLastEmailDate
	ColNextStepDate
	ColStatus
	ColNotes
	ColPhone
	ColPhoneCalled
	ColMobile
	ColMobileCalled
	ColPriority
	ColTags
	ColSequence
	ColIndustry
	ColStep1Subject
	ColStep1MessageID
	ColThreadID
	ColLabeled
	ColLastReplyDate

	NumColumns
)

// Header is the sheet header row, indexed by Column
var Header = [NumColumns]string{
	ColFirstName:      "First Name",
	ColLastName:       "Last Name",
	ColEmail:          "Email",
	ColCompany:        "Company",
	ColTitle:          "Title",
	ColCurrentStep:    "Current Step",
	ColLastEmailDate:  "Last Email Date",
	ColNextStepDate:   "Next Step Date",
	ColStatus:         "Status",
	ColNotes:          "Notes",
	ColPhone:          "Phone",
	ColPhoneCalled:    "Phone Called",
	ColMobile:         "Mobile",
	ColMobileCalled:   "Mobile Called",
	ColPriority:       "Priority",
	ColTags:           "Tags",
	ColSequence:       "Sequence",
	ColIndustry:       "Industry",
	ColStep1Subject:   "Step 1 Subject",
	ColStep1MessageID: "Step 1 Message ID",
	ColThreadID:       "Thread ID",
	ColLabeled:        "Labeled",
	ColLastReplyDate:  "Last Reply Date",
}

func (c Column) String() string {
	if c < 0 || c >= NumColumns {
		return "Column(" + strconv.Itoa(int(c)) + ")"
	}
	return Header[c]
}

// Row is one positional record of the store
type Row struct {
	Index   int
	Version int64
	Cells   []string
}

// Cell returns the value at col, or "" for short rows
func (r Row) Cell(col Column) string {
	if int(col) >= len(r.Cells) {
		return ""
	}
	return r.Cells[col]
}

// Clone returns a copy padded to the full schema width
func (r Row) Clone() Row {
	cells := make([]string, NumColumns)
	copy(cells, r.Cells)
	return Row{Index: r.Index, Version: r.Version, Cells: cells}
}

const dateLayout = time.RFC3339

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{dateLayout, "2006-01-02 15:04:05", "2006-01-02", "1/2/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func formatFlag(b bool) string {
	if b {
		return "TRUE"
	}
	return ""
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "y", "1", "x":
		return true
	}
	return false
}

// ContactFromRow decodes a row using the schema map
func ContactFromRow(r Row) models.Contact {
	step, err := strconv.Atoi(strings.TrimSpace(r.Cell(ColCurrentStep)))
	if err != nil || step < 1 {
		step = 1
	}
	return models.Contact{
		RowIndex:       r.Index,
		Version:        r.Version,
		FirstName:      r.Cell(ColFirstName),
		LastName:       r.Cell(ColLastName),
		Email:          strings.TrimSpace(r.Cell(ColEmail)),
		Company:        r.Cell(ColCompany),
		Title:          r.Cell(ColTitle),
		Industry:       r.Cell(ColIndustry),
		Notes:          r.Cell(ColNotes),
		Priority:       r.Cell(ColPriority),
		Tags:           r.Cell(ColTags),
		Sequence:       strings.TrimSpace(r.Cell(ColSequence)),
		CurrentStep:    step,
		Status:         models.ParseStatus(r.Cell(ColStatus)),
		LastEmailDate:  parseDate(r.Cell(ColLastEmailDate)),
		NextStepDate:   parseDate(r.Cell(ColNextStepDate)),
		Step1Subject:   r.Cell(ColStep1Subject),
		Step1MessageID: strings.TrimSpace(r.Cell(ColStep1MessageID)),
		ThreadID:       strings.TrimSpace(r.Cell(ColThreadID)),
		Phone:          r.Cell(ColPhone),
		PhoneCalled:    parseFlag(r.Cell(ColPhoneCalled)),
		Mobile:         r.Cell(ColMobile),
		MobileCalled:   parseFlag(r.Cell(ColMobileCalled)),
		Labeled:        parseFlag(r.Cell(ColLabeled)),
		LastReplyDate:  parseDate(r.Cell(ColLastReplyDate)),
	}
}

// Cells encodes a contact into a full-width row
func Cells(c models.Contact) []string {
	cells := make([]string, NumColumns)
	cells[ColFirstName] = c.FirstName
	cells[ColLastName] = c.LastName
	cells[ColEmail] = c.Email
	cells[ColCompany] = c.Company
	cells[ColTitle] = c.Title
	cells[ColCurrentStep] = strconv.Itoa(c.CurrentStep)
	cells[ColLastEmailDate] = formatDate(c.LastEmailDate)
	cells[ColNextStepDate] = formatDate(c.NextStepDate)
	cells[ColStatus] = string(c.Status)
	cells[ColNotes] = c.Notes
	cells[ColPhone] = c.Phone
	cells[ColPhoneCalled] = formatFlag(c.PhoneCalled)
	cells[ColMobile] = c.Mobile
	cells[ColMobileCalled] = formatFlag(c.MobileCalled)
	cells[ColPriority] = c.Priority
	cells[ColTags] = c.Tags
	cells[ColSequence] = c.Sequence
	cells[ColIndustry] = c.Industry
	cells[ColStep1Subject] = c.Step1Subject
	cells[ColStep1MessageID] = c.Step1MessageID
	cells[ColThreadID] = c.ThreadID
	cells[ColLabeled] = formatFlag(c.Labeled)
	cells[ColLastReplyDate] = formatDate(c.LastReplyDate)
	return cells
}

// Diff returns the cells of after that differ from before
func Diff(before, after models.Contact) map[Column]string {
	old, cur := Cells(before), Cells(after)
	changed := make(map[Column]string)
	for col := Column(0); col < NumColumns; col++ {
		if old[col] != cur[col] {
			changed[col] = cur[col]
		}
	}
	return changed
}
