package controllers

import (
	"halaqat_go/middleware"
	"halaqat_go/services"

	"github.com/gofiber/fiber/v2"
)

// PrivilegedController runs whitelisted raw table writes for administrators.
type PrivilegedController struct {
	privileged *services.PrivilegedService
	activity   *middleware.ActivityLogger
}

func NewPrivilegedController(privileged *services.PrivilegedService, activity *middleware.ActivityLogger) *PrivilegedController {
	return &PrivilegedController{privileged: privileged, activity: activity}
}

// Execute answers with the normalized result; the HTTP status follows the error kind.
func (pc *PrivilegedController) Execute(c *fiber.Ctx) error {
	var req services.PrivilegedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(services.ResultOf(nil, services.NewValidationError("invalid request body")))
	}
	res := pc.privileged.Execute(actor(c), req)
	if !res.Success {
		status, found := statusByKind[res.Error.Kind]
		if !found {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(res)
	}
	pc.activity.Log(c, "PRIVILEGED_"+req.Action, req.Table, req.ID, map[string]any{"columns": keys(req.Data)})
	return c.Status(fiber.StatusOK).JSON(res)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
