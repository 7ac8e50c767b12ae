package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreach/dispatch"
	"outreach/models"
	"outreach/selection"
	"outreach/utils"
)

// ProblemsShown is how many skip/failure messages a response lists
const ProblemsShown = 5

type DispatchController struct {
	Pipeline  *dispatch.Pipeline
	Selection *selection.Reconciler
	Progress  *ProgressHub
	Logger    *logrus.Entry
}

func NewDispatchController(pipeline *dispatch.Pipeline, reconciler *selection.Reconciler, hub *ProgressHub, logger *logrus.Logger) *DispatchController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DispatchController{
		Pipeline:  pipeline,
		Selection: reconciler,
		Progress:  hub,
		Logger:    logger.WithField("component", "dispatch_controller"),
	}
}

func sessionID(c *fiber.Ctx) string {
	id, _ := c.Locals("sessionID").(string)
	return id
}

// formFields collects the submitted form in field order
func formFields(c *fiber.Ctx) (selection.Fields, []string) {
	fields := make(selection.Fields)
	var order []string
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		name, value := string(k), string(v)
		fields[name] = append(fields[name], value)
		if strings.HasPrefix(name, selection.FieldPrefix) {
			order = append(order, value)
		}
	})
	return fields, order
}

type dispatchResponse struct {
	Summary  string           `json:"summary"`
	Problems []string         `json:"problems,omitempty"`
	Report   *dispatch.Report `json:"report"`
}

// Dispatch resolves the submitted selection and runs one batch over it
func (dc *DispatchController) Dispatch(c *fiber.Ctx) error {
	session := sessionID(c)
	fields, order := formFields(c)

	var opts dispatch.Options
	if raw := c.FormValue("mode"); raw != "" {
		mode, err := dispatch.ParseMode(raw)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid dispatch mode", err)
		}
		opts.Mode = mode
	}

	selected, baseline, err := dc.Selection.Resolve(c.UserContext(), session, fields)
	if err != nil {
		utils.LogError("selection_resolve", err, map[string]interface{}{"session_id": session})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resolve selection", err)
	}
	hint := order
	if baseline != nil {
		hint = append(append([]string(nil), baseline.ContactsOnPage...), order...)
	}
	emails := selected.Ordered(hint)

	total := len(emails)
	index := 0
	opts.Progress = func(o dispatch.Outcome) {
		index++
		dc.Progress.Publish(session, ProgressEvent{Type: EventOutcome, Index: index, Total: total, Outcome: &o})
	}

	report, err := dc.Pipeline.Dispatch(c.UserContext(), emails, opts)
	if err != nil {
		return dc.dispatchError(c, session, len(emails), err)
	}

	summary := report.Summary()
	dc.Progress.Publish(session, ProgressEvent{Type: EventDone, Total: total, Summary: summary})
	utils.LogEvent("dispatch_completed", map[string]interface{}{
		"session_id": session,
		"mode":       string(report.Mode),
		"summary":    summary,
	})

	return c.JSON(utils.SuccessResponse(dispatchResponse{
		Summary:  summary,
		Problems: report.Problems(ProblemsShown),
		Report:   report,
	}))
}

func (dc *DispatchController) dispatchError(c *fiber.Ctx, session string, selected int, err error) error {
	var preflight *dispatch.PreflightError
	var commit *dispatch.CommitError
	switch {
	case errors.As(err, &preflight):
		dc.Logger.WithFields(logrus.Fields{
			"session_id": session,
			"selected":   selected,
		}).WithError(err).Warn("Dispatch rejected")
		status := fiber.StatusBadRequest
		switch {
		case errors.Is(err, dispatch.ErrQuotaExceeded):
			status = fiber.StatusTooManyRequests
		case errors.Is(err, dispatch.ErrQuotaUnavailable):
			status = fiber.StatusServiceUnavailable
		}
		return utils.ErrorResponse(c, status, preflight.Reason.Error(), err)

	case errors.As(err, &commit):
		utils.LogError("dispatch_commit", err, map[string]interface{}{
			"session_id": session,
			"rows":       commit.Report.RowsCommitted,
		})
		summary := commit.Report.Summary()
		dc.Progress.Publish(session, ProgressEvent{Type: EventDone, Summary: summary})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Messages went out but the contact sheet was not updated",
			"details": err.Error(),
			"data": dispatchResponse{
				Summary:  summary,
				Problems: commit.Report.Problems(ProblemsShown),
				Report:   commit.Report,
			},
		})
	}

	utils.LogError("dispatch_failed", err, map[string]interface{}{"session_id": session})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Dispatch failed", err)
}

// Quota reports how many new messages can still go out today
func (dc *DispatchController) Quota(c *fiber.Ctx) error {
	remaining, err := dc.Pipeline.Transport.RemainingDailyQuota(c.UserContext())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Failed to read quota", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"remaining": remaining,
		"mode":      dc.Pipeline.Config.Mode,
	}))
}

// SelectionController records and clears select-all baselines
type SelectionController struct {
	Selection *selection.Reconciler
}

func NewSelectionController(reconciler *selection.Reconciler) *SelectionController {
	return &SelectionController{Selection: reconciler}
}

func (sc *SelectionController) SetBaseline(c *fiber.Ctx) error {
	var input struct {
		SelectAll      bool     `json:"select_all"`
		ContactsOnPage []string `json:"contacts_on_page" validate:"dive,mailaddr"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	baseline := models.SelectionBaseline{SelectAll: input.SelectAll, ContactsOnPage: input.ContactsOnPage}
	if err := sc.Selection.Remember(c.UserContext(), sessionID(c), baseline); err != nil {
		if errors.Is(err, selection.ErrNoSession) {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Session required", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store selection", err)
	}
	return c.Status(fiber.StatusNoContent).Send(nil)
}

func (sc *SelectionController) ClearBaseline(c *fiber.Ctx) error {
	if err := sc.Selection.Forget(c.UserContext(), sessionID(c)); err != nil {
		if errors.Is(err, selection.ErrNoSession) {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Session required", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to clear selection", err)
	}
	return c.Status(fiber.StatusNoContent).Send(nil)
}

