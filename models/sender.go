package models

// SenderProfile identifies the mailbox owner in placeholders, signatures and CC lists
type SenderProfile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Title   string `json:"title"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
}
