package middleware

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"halaqat_go/models"
	"halaqat_go/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("X-Request-ID", requestID)
		c.Locals("request_id", requestID)

		err := c.Next()

		status := c.Response().StatusCode()
		entry := logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		})
		switch {
		case status >= 500:
			entry.Error("HTTP Request")
		case status >= 400:
			entry.Warn("HTTP Request")
		default:
			entry.Info("HTTP Request")
		}
		return err
	}
}

// ActivityLogger records audit entries. A nil archive disables recording.
type ActivityLogger struct {
	archive *services.LogArchiveService
}

func NewActivityLogger(archive *services.LogArchiveService) *ActivityLogger {
	return &ActivityLogger{archive: archive}
}

// Log records one action by the current user.
func (l *ActivityLogger) Log(c *fiber.Ctx, action, resource string, resourceID uint, details map[string]any) {
	if l == nil || l.archive == nil {
		return
	}
	c.Locals("activity_logged", true)
	actor := GetActor(c)
	if details == nil {
		details = map[string]any{}
	}
	details["method"] = c.Method()
	details["path"] = c.Path()
	details["status_code"] = c.Response().StatusCode()
	if id, ok := c.Locals("request_id").(string); ok {
		details["request_id"] = id
	}
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	l.archive.Record(c.UserContext(), models.ActivityLog{
		UserID:     actor.UserID,
		CenterID:   actor.CenterID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    raw,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	})
}

// Middleware automatically logs successful writes under /api/<resource>/...
func (l *ActivityLogger) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || strings.Contains(c.Path(), "/auth/") {
			return c.Next()
		}
		err := c.Next()

		var action string
		switch c.Method() {
		case fiber.MethodPost:
			action = "CREATE"
		case fiber.MethodPut, fiber.MethodPatch:
			action = "UPDATE"
		case fiber.MethodDelete:
			action = "DELETE"
		default:
			return err
		}
		if err != nil || c.Response().StatusCode() >= 400 {
			return err
		}
		if logged, _ := c.Locals("activity_logged").(bool); logged {
			return err
		}

		parts := strings.Split(strings.Trim(c.Path(), "/"), "/")
		var resource string
		var resourceID uint
		if len(parts) >= 2 {
			resource = parts[1]
		}
		if len(parts) >= 3 {
			if id, perr := strconv.ParseUint(parts[2], 10, 64); perr == nil {
				resourceID = uint(id)
			}
		}
		l.Log(c, action, resource, resourceID, nil)
		return err
	}
}
