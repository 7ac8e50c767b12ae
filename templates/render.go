package templates

import (
	"html"
	"strings"

	"outreach/models"
)

// Values maps placeholder names (without braces) to their replacement
type Values map[string]string

// ValuesFor builds the placeholder values for a contact and sender
func ValuesFor(c models.Contact, sender models.SenderProfile) Values {
	return Values{
		"firstName":     c.FirstName,
		"lastName":      c.LastName,
		"fullName":      c.FullName(),
		"email":         c.Email,
		"company":       c.Company,
		"title":         c.Title,
		"industry":      c.Industry,
		"senderName":    sender.Name,
		"senderEmail":   sender.Email,
		"senderTitle":   sender.Title,
		"senderCompany": sender.Company,
		"senderPhone":   sender.Phone,
	}
}

// Escaped returns a copy with every value HTML-escaped, for message bodies
func (v Values) Escaped() Values {
	out := make(Values, len(v))
	for name, value := range v {
		out[name] = html.EscapeString(value)
	}
	return out
}

// Render substitutes {{name}} placeholders. Unknown placeholders are left as is.
func Render(text string, values Values) string {
	if text == "" || len(values) == 0 {
		return text
	}
	pairs := make([]string, 0, len(values)*4)
	for name, value := range values {
		pairs = append(pairs, "{{"+name+"}}", value, "{{ "+name+" }}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Signature appends a fixed HTML signature to outgoing bodies
type Signature struct {
	HTML string
}

func (s Signature) Apply(body string) string {
	sig := strings.TrimSpace(s.HTML)
	if sig == "" || strings.Contains(body, sig) {
		return body
	}
	if body == "" {
		return sig
	}
	return body + "<br><br>" + sig
}

// Rendered is a template ready to hand to the mail transport
type Rendered struct {
	Name    string
	Subject string
	Body    string
}

// RenderFor renders a template for a contact, signature included.
// The signature itself may carry sender placeholders.
func RenderFor(tpl Template, c models.Contact, sender models.SenderProfile, sig Signature) Rendered {
	values := ValuesFor(c, sender)
	return Rendered{
		Name:    tpl.Name,
		Subject: strings.TrimSpace(Render(tpl.Subject, values)),
		Body:    Render(sig.Apply(tpl.Body), values.Escaped()),
	}
}
