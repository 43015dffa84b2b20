package controllers

import (
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
)

// LogController exposes the audit trail and its archives.
type LogController struct {
	archive *services.LogArchiveService
}

func NewLogController(archive *services.LogArchiveService) *LogController {
	return &LogController{archive: archive}
}

// GetLogs returns activity logs with filters
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	from, err := queryDate(c, "from")
	if err != nil {
		return fail(c, err)
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return fail(c, err)
	}
	f := services.LogFilter{
		UserID:     queryUint(c, "user_id"),
		Action:     c.Query("action"),
		Resource:   c.Query("resource"),
		From:       from,
		To:         to,
		Pagination: pagination(c),
	}
	if f.To != nil {
		next := f.To.AddDate(0, 0, 1)
		f.To = &next
	}
	out, total, err := lc.archive.ListLogs(actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, out, pageMeta(f.Pagination, total))
}

func (lc *LogController) ListArchives(c *fiber.Ctx) error {
	out, err := lc.archive.Archives(actor(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

// DownloadArchive streams a zipped archive out of object storage.
func (lc *LogController) DownloadArchive(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	r, name, err := lc.archive.Download(c.UserContext(), actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	c.Attachment(name)
	c.Set(fiber.HeaderContentType, "application/zip")
	return c.SendStream(r)
}

// ArchiveNow runs the archiving job on demand.
func (lc *LogController) ArchiveNow(c *fiber.Ctx) error {
	if !actor(c).IsGlobal() {
		return fail(c, services.ErrForbidden)
	}
	a, err := lc.archive.ArchiveOldLogs(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	if a == nil {
		return utils.Success(c, fiber.StatusOK, "Nothing to archive", nil)
	}
	return created(c, a)
}
