package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"halaqat_go/services"

	"github.com/gofiber/fiber/v2"
	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

// GroupDirectory resolves LINE group names.
type GroupDirectory interface {
	GroupName(groupID string) (string, error)
}

type LineWebhookHandler struct {
	secret  string
	groups  GroupDirectory
	matcher *services.LineGroupMatcher
	async   bool
}

func NewLineWebhookHandler(secret string, groups GroupDirectory, matcher *services.LineGroupMatcher) *LineWebhookHandler {
	if secret == "" {
		logrus.Warn("LINE channel secret missing: webhook disabled")
	}
	return &LineWebhookHandler{secret: secret, groups: groups, matcher: matcher, async: true}
}

// Handle answers LINE right away and processes join and leave events in the background.
func (h *LineWebhookHandler) Handle(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.SendStatus(fiber.StatusOK)
	}
	signature := c.Get("X-Line-Signature")
	if signature == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	body := append([]byte(nil), c.Body()...)
	if !validateSignature(h.secret, body, signature) {
		logrus.WithField("ip", c.IP()).Warn("LINE webhook signature mismatch")
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var webhook struct {
		Events []*linebot.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &webhook); err != nil {
		logrus.WithError(err).Warn("unreadable LINE webhook body")
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if h.async {
		go h.process(webhook.Events)
	} else {
		h.process(webhook.Events)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *LineWebhookHandler) process(events []*linebot.Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("panic recovered in LINE webhook")
		}
	}()
	for _, event := range events {
		if event == nil || event.Source == nil || event.Source.GroupID == "" {
			continue
		}
		groupID := event.Source.GroupID
		log := logrus.WithField("group_id", groupID)
		switch event.Type {
		case linebot.EventTypeJoin:
			name, err := h.groups.GroupName(groupID)
			if err != nil {
				log.WithError(err).Warn("cannot resolve LINE group name")
				continue
			}
			if _, err := h.matcher.Joined(groupID, name, time.Now().UTC()); err != nil {
				log.WithError(err).Error("failed to record LINE group join")
				continue
			}
			log.WithField("group_name", name).Info("bot joined LINE group")
		case linebot.EventTypeLeave:
			if err := h.matcher.Left(groupID, time.Now().UTC()); err != nil {
				log.WithError(err).Warn("failed to record LINE group leave")
				continue
			}
			log.Info("bot left LINE group")
		}
	}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validateSignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(computeSignature(secret, body)))
}
