package services

import (
	"halaqat_go/config"

	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LineMessagingService wraps the LINE Messaging API client. Without credentials it is
// disabled and pushes are dropped.
type LineMessagingService struct {
	Bot *linebot.Client
}

func NewLineMessagingService(cfg *config.Config) *LineMessagingService {
	if cfg.LineChannelSecret == "" || cfg.LineChannelAccessToken == "" {
		logrus.Warn("LINE messaging disabled: missing LINE_CHANNEL_SECRET or LINE_CHANNEL_ACCESS_TOKEN")
		return &LineMessagingService{}
	}
	bot, err := linebot.New(cfg.LineChannelSecret, cfg.LineChannelAccessToken)
	if err != nil {
		logrus.WithError(err).Error("cannot create LINE bot client, messaging disabled")
		return &LineMessagingService{}
	}
	return &LineMessagingService{Bot: bot}
}

func (s *LineMessagingService) Enabled() bool { return s != nil && s.Bot != nil }

// PushText sends a text message to a user, group or room id.
func (s *LineMessagingService) PushText(to, text string) error {
	if !s.Enabled() {
		logrus.WithField("to", to).Debug("LINE disabled, push skipped")
		return nil
	}
	if _, err := s.Bot.PushMessage(to, linebot.NewTextMessage(text)).Do(); err != nil {
		return errors.Wrap(err, "LINE push failed")
	}
	return nil
}

// GroupName looks up the display name of a group the bot belongs to.
func (s *LineMessagingService) GroupName(groupID string) (string, error) {
	if !s.Enabled() {
		return "", errors.New("LINE messaging disabled")
	}
	summary, err := s.Bot.GetGroupSummary(groupID).Do()
	if err != nil {
		return "", errors.Wrap(err, "LINE group summary failed")
	}
	return summary.GroupName, nil
}
