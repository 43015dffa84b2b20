package controllers

import (
	"time"

	"halaqat_go/middleware"
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
)

// WorkflowController serves daily reports, consent requests and spreadsheet import/export.
type WorkflowController struct {
	reports  *services.ReportService
	consent  *services.ConsentService
	sheets   *services.SpreadsheetService
	activity *middleware.ActivityLogger
}

func NewWorkflowController(reports *services.ReportService, consent *services.ConsentService, sheets *services.SpreadsheetService, activity *middleware.ActivityLogger) *WorkflowController {
	return &WorkflowController{reports: reports, consent: consent, sheets: sheets, activity: activity}
}

type reviewRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Notes   string `json:"notes"`
}

type consentRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Notes    string `json:"notes"`
}

type attendanceRequest struct {
	Attended *bool `json:"attended" validate:"required"`
}

type reportRequest struct {
	HalqaID    uint                  `json:"halqa_id" validate:"required"`
	ReportDate string                `json:"report_date" validate:"required,datetime=2006-01-02"`
	Entries    []services.EntryInput `json:"entries" validate:"required,min=1,dive"`
}

const dateLayout = "2006-01-02"

func queryDate(c *fiber.Ctx, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, services.NewValidationError("invalid "+name, services.FieldError{Field: name, Error: "expected YYYY-MM-DD"})
	}
	return &t, nil
}

// ---- reports ----

// Roster returns the day's report or a draft for it. The day defaults to today.
func (wc *WorkflowController) Roster(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	day, err := queryDate(c, "date")
	if err != nil {
		return fail(c, err)
	}
	if day == nil {
		now := time.Now()
		day = &now
	}
	out, err := wc.reports.Roster(actor(c), id, *day)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) SubmitReport(c *fiber.Ctx) error {
	var req reportRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	// The calendar day is taken as written so a client ahead of UTC files the day it sees.
	day, err := time.Parse(dateLayout, req.ReportDate)
	if err != nil {
		return fail(c, services.NewValidationError("invalid report_date", services.FieldError{Field: "report_date", Error: "expected YYYY-MM-DD"}))
	}
	out, err := wc.reports.Submit(actor(c), services.ReportInput{HalqaID: req.HalqaID, ReportDate: day, Entries: req.Entries})
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (wc *WorkflowController) ResubmitReport(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in services.ResubmitInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := wc.reports.Resubmit(actor(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) ReviewReport(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req reviewRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := wc.reports.Review(actor(c), id, *req.Approve, req.Notes)
	if err != nil {
		return fail(c, err)
	}
	action := "REJECT_REPORT"
	if *req.Approve {
		action = "APPROVE_REPORT"
	}
	wc.activity.Log(c, action, "reports", id, nil)
	return ok(c, out)
}

func (wc *WorkflowController) GetReport(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := wc.reports.Get(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) ListReports(c *fiber.Ctx) error {
	from, err := queryDate(c, "from")
	if err != nil {
		return fail(c, err)
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return fail(c, err)
	}
	f := services.ReportFilter{
		HalqaID:    queryUint(c, "halqa_id"),
		Status:     c.Query("status"),
		From:       from,
		To:         to,
		Pagination: pagination(c),
	}
	out, total, err := wc.reports.List(actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, out, pageMeta(f.Pagination, total))
}

// ---- activities ----

func (wc *WorkflowController) CreateActivity(c *fiber.Ctx) error {
	var in services.ActivityInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := wc.consent.CreateActivity(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (wc *WorkflowController) ListActivities(c *fiber.Ctx) error {
	out, err := wc.consent.ListActivities(actor(c), pagination(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) GetActivity(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := wc.consent.GetActivity(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) RespondActivity(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req consentRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := wc.consent.RespondActivity(actor(c), id, *req.Approved, req.Notes)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

// ---- holidays ----

func (wc *WorkflowController) CreateHoliday(c *fiber.Ctx) error {
	var in services.HolidayInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := wc.consent.CreateHoliday(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (wc *WorkflowController) ListHolidays(c *fiber.Ctx) error {
	out, err := wc.consent.ListHolidays(actor(c), pagination(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) GetHoliday(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := wc.consent.GetHoliday(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) RespondHoliday(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req consentRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := wc.consent.RespondHoliday(actor(c), id, *req.Approved, req.Notes)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (wc *WorkflowController) MarkHolidayAttendance(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req attendanceRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := wc.consent.MarkHolidayAttendance(actor(c), id, *req.Attended)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

// PendingConsents lists what the signed-in parent still has to answer.
func (wc *WorkflowController) PendingConsents(c *fiber.Ctx) error {
	out, err := wc.consent.Pending(actor(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

// ---- spreadsheets ----

func (wc *WorkflowController) ImportStudents(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, services.NewValidationError("file is required", services.FieldError{Field: "file", Error: "missing"}))
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, err)
	}
	defer f.Close()
	out, err := wc.sheets.ImportStudents(actor(c), id, f)
	if err != nil {
		return fail(c, err)
	}
	wc.activity.Log(c, "IMPORT_STUDENTS", "halaqat", id, map[string]any{"created": out.Created, "errors": len(out.Errors)})
	return utils.Success(c, fiber.StatusOK, "Import finished", out)
}

// ExportAttendance streams the month's attendance workbook. year and month default to now.
func (wc *WorkflowController) ExportAttendance(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	now := time.Now().UTC()
	year := c.QueryInt("year", now.Year())
	month := time.Month(c.QueryInt("month", int(now.Month())))
	data, name, err := wc.sheets.ExportAttendance(actor(c), id, year, month)
	if err != nil {
		return fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Attachment(name)
	return c.Send(data)
}
