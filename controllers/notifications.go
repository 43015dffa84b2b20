package controllers

import (
	"halaqat_go/services"
	"halaqat_go/services/notifications"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
)

// NotificationController serves the signed-in user's notification inbox.
type NotificationController struct {
	notifications *notifications.Service
}

func NewNotificationController(svc *notifications.Service) *NotificationController {
	return &NotificationController{notifications: svc}
}

// GetNotifications returns notifications for the current user
func (nc *NotificationController) GetNotifications(c *fiber.Ctx) error {
	p := pagination(c)
	f := notifications.Filter{Type: c.Query("type"), Page: p.Page, Limit: p.Limit}
	switch c.Query("read") {
	case "true":
		v := true
		f.Read = &v
	case "false":
		v := false
		f.Read = &v
	}
	list, total, err := nc.notifications.List(actor(c).UserID, f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, utils.ToNotificationDTOs(list), pageMeta(p, total))
}

func (nc *NotificationController) UnreadCount(c *fiber.Ctx) error {
	n, err := nc.notifications.UnreadCount(actor(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"unread": n})
}

// MarkAsRead marks a notification as read
func (nc *NotificationController) MarkAsRead(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	found, err := nc.notifications.MarkRead(actor(c).UserID, id)
	if err != nil {
		return fail(c, err)
	}
	if !found {
		return fail(c, services.ErrNotFound)
	}
	return ok(c, fiber.Map{"id": id, "read": true})
}

// MarkAllAsRead marks all notifications as read for the current user
func (nc *NotificationController) MarkAllAsRead(c *fiber.Ctx) error {
	n, err := nc.notifications.MarkAllRead(actor(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"updated": n})
}

func (nc *NotificationController) Delete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	found, err := nc.notifications.Delete(actor(c).UserID, id)
	if err != nil {
		return fail(c, err)
	}
	if !found {
		return fail(c, services.ErrNotFound)
	}
	return ok(c, fiber.Map{"id": id})
}
