package controllers

import (
	"halaqat_go/services"

	"github.com/gofiber/fiber/v2"
)

// HealthController exposes the liveness and health report endpoints.
type HealthController struct {
	service *services.HealthService
}

func NewHealthController(service *services.HealthService) *HealthController {
	return &HealthController{service: service}
}

// GetHealthStatus returns the aggregated health report. A down database answers 503.
func (hc *HealthController) GetHealthStatus(c *fiber.Ctx) error {
	report := hc.service.Report(c.UserContext())
	return c.Status(hc.service.HTTPStatusForOverall(report.Status)).JSON(report)
}

// Live answers as long as the process serves requests.
func (hc *HealthController) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
