package templates

import (
	"errors"
	"reflect"
	"testing"

	"outreach/models"
)

func demoSequence() models.Sequence {
	return models.Sequence{
		Name:      "Demo",
		StepCount: 3,
		Steps: []models.SequenceStep{
			{StepNumber: 1, Template: models.Template{Name: "Intro", Subject: "Hi {{firstName}}", Body: "Hello {{company}}"}},
			{StepNumber: 2, Template: models.Template{Name: "Bump", Subject: "", Body: "Following up"}},
		},
		Attachments: []models.SequenceAttachment{{FileName: "deck.pdf", Path: "/files/deck.pdf"}},
	}
}

func TestResolveTemplate(t *testing.T) {
	c := NewCatalog(3, demoSequence())

	tpl, err := c.ResolveTemplate("demo", 1)
	if err != nil {
		t.Fatalf("expected template, got %v", err)
	}
	if tpl.Name != "Intro" {
		t.Fatalf("unexpected template %+v", tpl)
	}

	for _, step := range []int{0, 3, 4} {
		if _, err := c.ResolveTemplate("Demo", step); !errors.Is(err, ErrTemplateNotFound) {
			t.Fatalf("step %d: expected ErrTemplateNotFound, got %v", step, err)
		}
	}
	if _, err := c.ResolveTemplate("Other", 1); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound for unknown sequence, got %v", err)
	}
}

func TestStepCeilingPerSequence(t *testing.T) {
	short := models.Sequence{Name: "Short", StepCount: 1}
	long := models.Sequence{Name: "Long", StepCount: 9}
	c := NewCatalog(3, short, long)

	if got := c.StepCeiling("Short"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := c.StepCeiling("Long"); got != models.MaxSequenceSteps {
		t.Fatalf("expected clamp to %d, got %d", models.MaxSequenceSteps, got)
	}
	if got := c.StepCeiling("Unknown"); got != 3 {
		t.Fatalf("expected default 3, got %d", got)
	}
}

func TestAttachmentsAreCopied(t *testing.T) {
	c := NewCatalog(3, demoSequence())
	a := c.Attachments("Demo")
	a[0] = "changed"
	if got := c.Attachments("Demo"); got[0] != "/files/deck.pdf" {
		t.Fatalf("catalog must stay immutable, got %v", got)
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	got := Render("Hi {{firstName}}, {{ company }} {{unknown}}", Values{"firstName": "Ada", "company": "Acme"})
	if want := "Hi Ada, Acme {{unknown}}"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderForAppendsSignatureOnce(t *testing.T) {
	contact := models.Contact{FirstName: "Ada", Company: "Acme"}
	sender := models.SenderProfile{Name: "Sam"}
	sig := Signature{HTML: "-- {{senderName}}"}

	r := RenderFor(Template{Name: "Intro", Subject: " Hi {{firstName}} ", Body: "Hello {{company}}"}, contact, sender, sig)
	if r.Subject != "Hi Ada" {
		t.Fatalf("unexpected subject %q", r.Subject)
	}
	if want := "Hello Acme<br><br>-- Sam"; r.Body != want {
		t.Fatalf("expected %q, got %q", want, r.Body)
	}
	if got := sig.Apply("body -- {{senderName}}"); got != "body -- {{senderName}}" {
		t.Fatalf("signature must not be appended twice, got %q", got)
	}
}

func TestRenderForEscapesBodyValuesOnly(t *testing.T) {
	contact := models.Contact{FirstName: "<b>Ada</b>", Company: "AT&T"}

	r := RenderFor(Template{Name: "Intro", Subject: "{{company}} and {{firstName}}", Body: "<p>Hello {{firstName}} at {{company}}</p>"}, contact, models.SenderProfile{}, Signature{})
	if want := "AT&T and <b>Ada</b>"; r.Subject != want {
		t.Fatalf("subject should stay raw: expected %q, got %q", want, r.Subject)
	}
	if want := "<p>Hello &lt;b&gt;Ada&lt;/b&gt; at AT&amp;T</p>"; r.Body != want {
		t.Fatalf("expected %q, got %q", want, r.Body)
	}
}

func TestSummaries(t *testing.T) {
	c := NewCatalog(3, demoSequence(), models.Sequence{Name: "Alpha", StepCount: 2})
	got := c.Summaries()
	if len(got) != 2 || got[0].Name != "Alpha" {
		t.Fatalf("expected sorted summaries, got %+v", got)
	}
	if !reflect.DeepEqual(got[1].Steps, []int{1, 2}) || got[1].Attachments != 1 {
		t.Fatalf("unexpected demo summary %+v", got[1])
	}
}

func TestParseCatalogYAML(t *testing.T) {
	raw := []byte(`
sequences:
  - name: Launch
    steps: 2
    attachments: [/srv/deck.pdf]
    templates:
      - step: 1
        name: Intro
        subject: "Hi {{firstName}}"
        body: "<p>Hello</p>"
      - step: 2
        name: Bump
        body: "<p>Following up</p>"
  - name: Nurture
    templates:
      - step: 1
        subject: Hello
        body: Hi
`)
	cat, err := ParseCatalog(raw, 3)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cat.StepCeiling("launch"); got != 2 {
		t.Fatalf("expected ceiling 2, got %d", got)
	}
	if got := cat.StepCeiling("Nurture"); got != 3 {
		t.Fatalf("missing steps should use the default ceiling, got %d", got)
	}
	tpl, err := cat.ResolveTemplate("Launch", 2)
	if err != nil || tpl.Name != "Bump" {
		t.Fatalf("unexpected step 2 template %+v, %v", tpl, err)
	}
	if a := cat.Attachments("Launch"); len(a) != 1 || a[0] != "/srv/deck.pdf" {
		t.Fatalf("unexpected attachments %v", a)
	}
}

func TestParseCatalogRejectsBadSteps(t *testing.T) {
	if _, err := ParseCatalog([]byte("sequences:\n  - name: X\n    templates:\n      - step: 7\n"), 3); err == nil {
		t.Fatalf("expected step range error")
	}
	if _, err := ParseCatalog([]byte("sequences:\n  - steps: 2\n"), 3); err == nil {
		t.Fatalf("expected missing name error")
	}
}
