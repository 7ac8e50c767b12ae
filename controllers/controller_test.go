package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"outreach/config"
	"outreach/dispatch"
	"outreach/mail/mailtest"
	"outreach/middleware"
	"outreach/models"
	"outreach/selection"
	"outreach/store"
	"outreach/templates"
	"outreach/threads"
	"outreach/utils"
)

type testEnv struct {
	app       *fiber.App
	store     *store.MemoryStore
	transport *mailtest.Transport
	token     string
}

func newTestEnv(t *testing.T, quota int, contacts ...models.Contact) *testEnv {
	t.Helper()
	config.AppConfig.EncryptionKey = "test-key"
	token, err := utils.GenerateJWTToken("ops", "session-1", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	st := store.NewMemoryStore(contacts...)
	tr := mailtest.New(quota)
	src := templates.StaticSource{Catalog: templates.NewCatalog(3, models.Sequence{
		Name:      "Demo",
		StepCount: 3,
		Steps: []models.SequenceStep{
			{StepNumber: 1, Template: models.Template{Name: "Intro", Subject: "Hi {{firstName}}", Body: "<p>Hello</p>"}},
			{StepNumber: 2, Template: models.Template{Name: "Bump", Body: "<p>Bump</p>"}},
		},
	})}
	pipeline := dispatch.NewPipeline(st, src, tr, threads.NewFinder(tr, nil), dispatch.Config{
		Mode:      dispatch.ModeDraft,
		DelayDays: 3,
		Sender:    models.SenderProfile{Name: "Sam", Email: "sam@acme.com"},
	}, nil)
	reconciler := selection.NewReconciler(selection.NewMemoryBaselineStore(time.Hour))

	dc := NewDispatchController(pipeline, reconciler, NewProgressHub(), nil)
	sc := NewSelectionController(reconciler)
	cc := NewContactController(st, src, 3, "@demo.example", false, nil)

	app := fiber.New()
	api := app.Group("/api/v1", middleware.Protected())
	api.Put("/selection/baseline", sc.SetBaseline)
	api.Delete("/selection/baseline", sc.ClearBaseline)
	api.Post("/dispatch", dc.Dispatch)
	api.Get("/quota", dc.Quota)
	api.Get("/contacts", cc.GetContacts)
	api.Post("/contacts", cc.CreateContact)
	api.Post("/contacts/demo", cc.CreateDemoContact)
	api.Get("/contacts/:email", cc.GetContact)
	api.Post("/contacts/:email/:action", cc.Transition)
	api.Get("/sequences", NewSequenceController(src).GetSequences)

	return &testEnv{app: app, store: st, transport: tr, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func (e *testEnv) form(t *testing.T, values url.Values) (int, map[string]interface{}) {
	return e.do(t, http.MethodPost, "/api/v1/dispatch", fiber.MIMEApplicationForm, values.Encode())
}

func active(email string) models.Contact {
	return models.Contact{Email: email, FirstName: "Ann", Sequence: "Demo", CurrentStep: 1, Status: models.StatusActive}
}

func TestProtectedRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, 10)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestDispatchHonoursSelectAllBaseline(t *testing.T) {
	env := newTestEnv(t, 10, active("a@x.com"), active("b@x.com"), active("c@x.com"))

	status, _ := env.do(t, http.MethodPut, "/api/v1/selection/baseline", fiber.MIMEApplicationJSON,
		`{"select_all":true,"contacts_on_page":["a@x.com","b@x.com","c@x.com"]}`)
	if status != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}

	// only b stayed checked
	status, body := env.form(t, url.Values{selection.FieldName("b@x.com"): {"b@x.com"}})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	data := body["data"].(map[string]interface{})
	if data["summary"] != "Sent 0, created 1 draft, failed 0" {
		t.Fatalf("unexpected summary %q", data["summary"])
	}
	drafts := env.transport.CallsTo("CreateDraft")
	if len(drafts) != 1 || drafts[0].To != "b@x.com" {
		t.Fatalf("expected one draft to b@x.com, got %+v", drafts)
	}

	// baseline is consumed: the same submission is now direct mode
	status, _ = env.form(t, url.Values{selection.FieldName("a@x.com"): {"a@x.com"}})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if got := len(env.transport.CallsTo("CreateDraft")); got != 2 {
		t.Fatalf("expected 2 drafts in total, got %d", got)
	}
}

func TestDispatchEmptySelectionIsBadRequest(t *testing.T) {
	env := newTestEnv(t, 10, active("a@x.com"))
	status, body := env.form(t, url.Values{"mode": {"draft"}})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", status, body)
	}
}

func TestDispatchQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, 1, active("a@x.com"), active("b@x.com"))
	status, _ := env.form(t, url.Values{
		selection.FieldName("a@x.com"): {"a@x.com"},
		selection.FieldName("b@x.com"): {"b@x.com"},
	})
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if len(env.transport.Calls) != 0 {
		t.Fatalf("nothing may be sent after a preflight abort")
	}
}

func TestDispatchRejectsUnknownMode(t *testing.T) {
	env := newTestEnv(t, 10, active("a@x.com"))
	status, _ := env.form(t, url.Values{"mode": {"shout"}, selection.FieldName("a@x.com"): {"a@x.com"}})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestCreateContactValidatesAndRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t, 10, active("a@x.com"))

	status, _ := env.do(t, http.MethodPost, "/api/v1/contacts", fiber.MIMEApplicationJSON, `{"email":"nope","sequence":"Demo"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for a bad email, got %d", status)
	}
	status, _ = env.do(t, http.MethodPost, "/api/v1/contacts", fiber.MIMEApplicationJSON, `{"email":"A@x.com","sequence":"Demo"}`)
	if status != fiber.StatusConflict {
		t.Fatalf("expected 409 for a duplicate, got %d", status)
	}
	status, body := env.do(t, http.MethodPost, "/api/v1/contacts", fiber.MIMEApplicationJSON, `{"email":"new@x.com","first_name":"Nia","sequence":"Demo"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	data := body["data"].(map[string]interface{})
	if data["status"] != string(models.StatusActive) || data["current_step"].(float64) != 1 {
		t.Fatalf("new contacts start Active at step 1, got %v", data)
	}
}

func TestDemoContactCarriesMarker(t *testing.T) {
	env := newTestEnv(t, 10)
	status, body := env.do(t, http.MethodPost, "/api/v1/contacts/demo", "", "")
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	email := body["data"].(map[string]interface{})["email"].(string)
	if !strings.HasSuffix(email, "@demo.example") {
		t.Fatalf("expected a demo address, got %q", email)
	}
}

func TestTransitions(t *testing.T) {
	env := newTestEnv(t, 10, active("a@x.com"))

	status, body := env.do(t, http.MethodPost, "/api/v1/contacts/a@x.com/pause", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("pause: expected 200, got %d: %v", status, body)
	}
	status, _ = env.do(t, http.MethodPost, "/api/v1/contacts/a@x.com/pause", "", "")
	if status != fiber.StatusConflict {
		t.Fatalf("pausing twice: expected 409, got %d", status)
	}
	status, _ = env.do(t, http.MethodPost, "/api/v1/contacts/a@x.com/resume", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("resume: expected 200, got %d", status)
	}
	status, body = env.do(t, http.MethodPost, "/api/v1/contacts/a@x.com/advance", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("advance: expected 200, got %d", status)
	}
	if step := body["data"].(map[string]interface{})["current_step"].(float64); step != 2 {
		t.Fatalf("expected step 2, got %v", step)
	}
	status, _ = env.do(t, http.MethodPost, "/api/v1/contacts/a@x.com/explode", "", "")
	if status != fiber.StatusNotFound {
		t.Fatalf("unknown action: expected 404, got %d", status)
	}
	status, _ = env.do(t, http.MethodPost, "/api/v1/contacts/missing@x.com/pause", "", "")
	if status != fiber.StatusNotFound {
		t.Fatalf("missing contact: expected 404, got %d", status)
	}

	row, err := env.store.ReadByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := store.ContactFromRow(*row); got.CurrentStep != 2 || got.Status != models.StatusActive {
		t.Fatalf("unexpected stored contact %+v", got)
	}
}

func TestGetContactsFilters(t *testing.T) {
	paused := active("p@x.com")
	paused.Status = models.StatusPaused
	env := newTestEnv(t, 10, active("a@x.com"), paused)

	status, body := env.do(t, http.MethodGet, "/api/v1/contacts?status=paused", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	page := body["data"].(map[string]interface{})
	if page["total"].(float64) != 1 {
		t.Fatalf("expected one paused contact, got %v", page)
	}
}

func TestProgressHubDeliversToSessionOnly(t *testing.T) {
	hub := NewProgressHub()
	mine, cancelMine := hub.Subscribe("s1")
	defer cancelMine()
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()

	hub.Publish("s1", ProgressEvent{Type: EventDone, Summary: "Sent 1, created 0 drafts, failed 0"})

	select {
	case ev := <-mine:
		if ev.Type != EventDone {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected an event for s1")
	}
	select {
	case ev := <-other:
		t.Fatalf("s2 must not see s1 events, got %+v", ev)
	default:
	}
}
