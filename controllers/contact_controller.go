package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/sequence"
	"outreach/store"
	"outreach/templates"
	"outreach/utils"
)

type ContactController struct {
	Store         store.ContactStore
	Templates     templates.Source
	DelayDays     int
	DemoMarker    string
	CheckVersions bool
	Now           func() time.Time
	Logger        *logrus.Entry
}

func NewContactController(st store.ContactStore, src templates.Source, delayDays int, demoMarker string, checkVersions bool, logger *logrus.Logger) *ContactController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ContactController{
		Store:         st,
		Templates:     src,
		DelayDays:     delayDays,
		DemoMarker:    demoMarker,
		CheckVersions: checkVersions,
		Now:           time.Now,
		Logger:        logger.WithField("component", "contact_controller"),
	}
}

type contactView struct {
	models.Contact
	Ready bool `json:"ready"`
}

func (cc *ContactController) view(c models.Contact) contactView {
	return contactView{Contact: c, Ready: c.IsReady(cc.Now())}
}

// GetContacts returns a filtered page of the sheet
func (cc *ContactController) GetContacts(c *fiber.Ctx) error {
	rows, err := cc.Store.ReadAll(c.UserContext())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read contacts", err)
	}

	status := strings.TrimSpace(c.Query("status"))
	seq := strings.ToLower(strings.TrimSpace(c.Query("sequence")))
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))
	readyOnly := c.QueryBool("ready", false)

	page := utils.ParseInt(c.Query("page"), 1)
	limit := utils.ParseInt(c.Query("limit"), 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	now := cc.Now()
	var matched []contactView
	for _, row := range rows {
		contact := store.ContactFromRow(row)
		if contact.Key() == "" {
			continue
		}
		if status != "" && contact.Status != models.ParseStatus(status) {
			continue
		}
		if seq != "" && strings.ToLower(contact.Sequence) != seq {
			continue
		}
		if readyOnly && !contact.IsReady(now) {
			continue
		}
		if search != "" && !matchesSearch(&contact, search) {
			continue
		}
		matched = append(matched, contactView{Contact: contact, Ready: contact.IsReady(now)})
	}

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  matched[start:end],
		Total: total,
		Page:  page,
		Limit: limit,
	}))
}

func matchesSearch(c *models.Contact, term string) bool {
	for _, v := range []string{c.Email, c.FullName(), c.Company, c.Title, c.Tags} {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

func (cc *ContactController) GetContact(c *fiber.Ctx) error {
	row, err := cc.Store.ReadByEmail(c.UserContext(), c.Params("email"))
	if err != nil {
		return cc.readError(c, err)
	}
	return c.JSON(utils.SuccessResponse(cc.view(store.ContactFromRow(*row))))
}

func (cc *ContactController) readError(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrContactNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read contact", err)
}

type contactInput struct {
	Email     string `json:"email" validate:"required,mailaddr"`
	FirstName string `json:"first_name" validate:"omitempty,max=100"`
	LastName  string `json:"last_name" validate:"omitempty,max=100"`
	Company   string `json:"company" validate:"omitempty,max=200"`
	Title     string `json:"title" validate:"omitempty,max=200"`
	Industry  string `json:"industry" validate:"omitempty,max=200"`
	Phone     string `json:"phone"`
	Mobile    string `json:"mobile"`
	Priority  string `json:"priority"`
	Tags      string `json:"tags"`
	Notes     string `json:"notes"`
	Sequence  string `json:"sequence" validate:"required,max=100"`
}

// CreateContact appends a new Active contact at step 1
func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	var input contactInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	email := models.NormalizeEmail(input.Email)
	contact, err := cc.create(c.UserContext(), models.Contact{
		Email:     email,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Company:   input.Company,
		Title:     input.Title,
		Industry:  input.Industry,
		Phone:     input.Phone,
		Mobile:    input.Mobile,
		Priority:  input.Priority,
		Tags:      input.Tags,
		Notes:     input.Notes,
		Sequence:  strings.TrimSpace(input.Sequence),
	})
	if err != nil {
		return cc.createError(c, email, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(cc.view(contact)))
}

// CreateDemoContact seeds a throwaway contact that is purged after its first dispatch
func (cc *ContactController) CreateDemoContact(c *fiber.Ctx) error {
	if cc.DemoMarker == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Demo contacts are disabled", nil)
	}
	var input struct {
		Sequence  string `json:"sequence"`
		FirstName string `json:"first_name"`
	}
	// empty body is fine
	_ = c.BodyParser(&input)

	if input.Sequence == "" {
		catalog, err := cc.Templates.Load(c.UserContext())
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequences", err)
		}
		summaries := catalog.Summaries()
		if len(summaries) == 0 {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "No sequences configured", nil)
		}
		input.Sequence = summaries[0].Name
	}
	if input.FirstName == "" {
		input.FirstName = "Demo"
	}

	email := demoEmail(cc.DemoMarker)
	contact, err := cc.create(c.UserContext(), models.Contact{
		Email:     email,
		FirstName: input.FirstName,
		LastName:  "Contact",
		Company:   "Demo Co",
		Sequence:  input.Sequence,
		Tags:      "demo",
	})
	if err != nil {
		return cc.createError(c, email, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(cc.view(contact)))
}

// demoEmail builds an address that contains the marker
func demoEmail(marker string) string {
	id := strings.SplitN(uuid.NewString(), "-", 2)[0]
	marker = strings.ToLower(strings.TrimSpace(marker))
	if strings.HasPrefix(marker, "@") {
		return "demo-" + id + marker
	}
	if strings.Contains(marker, "@") {
		return id + "." + marker
	}
	return fmt.Sprintf("demo-%s+%s@example.com", id, marker)
}

var errDuplicateContact = errors.New("contact with this email already exists")

func (cc *ContactController) create(ctx context.Context, contact models.Contact) (models.Contact, error) {
	if _, err := cc.Store.ReadByEmail(ctx, contact.Email); err == nil {
		return contact, errDuplicateContact
	} else if !errors.Is(err, store.ErrContactNotFound) {
		return contact, err
	}

	contact.CurrentStep = 1
	contact.Status = models.StatusActive
	row, err := cc.Store.AppendRow(ctx, store.Cells(contact))
	if err != nil {
		return contact, err
	}
	utils.LogEvent("contact_created", map[string]interface{}{
		"email":    contact.Email,
		"sequence": contact.Sequence,
		"row":      row.Index,
	})
	return store.ContactFromRow(row), nil
}

func (cc *ContactController) createError(c *fiber.Ctx, email string, err error) error {
	if errors.Is(err, errDuplicateContact) {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Contact with this email already exists", nil)
	}
	utils.LogError("contact_append", err, map[string]interface{}{"email": email})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact", err)
}

// transitions maps URL actions onto the state machine
var transitions = map[string]func(*sequence.Machine, *models.Contact) error{
	"advance":     (*sequence.Machine).ManualAdvance,
	"complete":    (*sequence.Machine).Complete,
	"unsubscribe": (*sequence.Machine).Unsubscribe,
	"pause":       (*sequence.Machine).Pause,
	"resume":      (*sequence.Machine).Resume,
}

// Transition applies a manual state change to one contact and writes only
// the changed cells back.
func (cc *ContactController) Transition(c *fiber.Ctx) error {
	action := strings.ToLower(c.Params("action"))
	apply, ok := transitions[action]
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown action", fmt.Errorf("%q", action))
	}

	ctx := c.UserContext()
	row, err := cc.Store.ReadByEmail(ctx, c.Params("email"))
	if err != nil {
		return cc.readError(c, err)
	}
	catalog, err := cc.Templates.Load(ctx)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequences", err)
	}

	machine := sequence.NewMachine(catalog, cc.DelayDays)
	machine.Now = cc.Now
	before := store.ContactFromRow(*row)
	after := before
	if err := apply(machine, &after); err != nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Transition not allowed", err)
	}

	batch := store.NewBatch([]store.Row{*row}, cc.CheckVersions)
	batch.Stage(before, after)
	if err := batch.Commit(ctx, cc.Store); err != nil {
		if errors.Is(err, store.ErrRowConflict) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Contact changed, reload and retry", err)
		}
		utils.LogError("contact_transition", err, map[string]interface{}{
			"email":  before.Email,
			"action": action,
		})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update contact", err)
	}

	cc.Logger.WithFields(logrus.Fields{
		"email":  after.Email,
		"action": action,
		"step":   after.CurrentStep,
		"status": after.Status,
	}).Info("Contact transitioned")
	return c.JSON(utils.SuccessResponse(cc.view(after)))
}

// SequenceController exposes the template catalog
type SequenceController struct {
	Templates templates.Source
}

func NewSequenceController(src templates.Source) *SequenceController {
	return &SequenceController{Templates: src}
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	catalog, err := sc.Templates.Load(c.UserContext())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequences", err)
	}
	return c.JSON(utils.SuccessResponse(catalog.Summaries()))
}
