package models

// SelectionBaseline is the snapshot taken when "select all" or "deselect all"
// fires on a contacts page. It is consumed by the next dispatch.
type SelectionBaseline struct {
	SelectAll      bool     `json:"select_all"`
	ContactsOnPage []string `json:"contacts_on_page"`
}
