package controllers

import (
	"halaqat_go/middleware"
	"halaqat_go/services/websocket"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub  *websocket.Hub
	auth *middleware.Auth
}

func NewWebSocketController(hub *websocket.Hub, auth *middleware.Auth) *WebSocketController {
	return &WebSocketController{hub: hub, auth: auth}
}

// Upgrade authenticates the ?token= query before the connection is upgraded. Browsers cannot
// set headers on websocket handshakes.
func (wsc *WebSocketController) Upgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return utils.Fail(c, fiber.StatusUpgradeRequired, "validation", "use ws://<host>/ws?token=JWT", nil)
	}
	token := c.Query("token")
	if token == "" {
		return utils.Fail(c, fiber.StatusUnauthorized, "unauthorized", "missing token", nil)
	}
	user, _, _, err := wsc.auth.Authenticate(c, token)
	if err != nil {
		logrus.WithError(err).Debug("websocket connection rejected")
		return utils.Fail(c, fiber.StatusUnauthorized, "unauthorized", "invalid token", nil)
	}
	c.Locals("ws_user_id", user.ID)
	return c.Next()
}

// Handler attaches an upgraded connection to the hub.
func (wsc *WebSocketController) Handler() fiber.Handler {
	return fiberws.New(func(conn *fiberws.Conn) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("websocket handler panic")
			}
		}()
		userID, ok := conn.Locals("ws_user_id").(uint)
		if !ok {
			_ = conn.Close()
			return
		}
		logrus.WithField("user_id", userID).Debug("websocket connected")
		wsc.hub.ServeFiberWS(conn, userID)
	})
}

// Stats returns websocket connection statistics.
func (wsc *WebSocketController) Stats(c *fiber.Ctx) error {
	return ok(c, fiber.Map{"connected_clients": wsc.hub.GetClientCount()})
}
