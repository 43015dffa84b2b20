package notifications

import (
	"context"
	"encoding/json"
	"time"

	"halaqat_go/models"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	ChannelNormal = "normal"
	ChannelLine   = "line"
)

const redisListKey = "halaqat:notifications:queue"

// Payload is what gets queued in Redis; one payload fans out to many users.
type Payload struct {
	UserIDs    []uint    `json:"user_ids"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	Channels   []string  `json:"channels,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	SourceID   *uint     `json:"source_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// New builds a payload. The line channel additionally pushes to users with a LINE id.
func New(title, message, typ string, channels ...string) Payload {
	return Payload{Title: title, Message: message, Type: typ, Channels: normalizeChannels(channels)}
}

// From attaches the entity the notification is about.
func (p Payload) From(sourceType string, sourceID uint) Payload {
	p.SourceType = sourceType
	p.SourceID = &sourceID
	return p
}

// WSHub is the realtime side of delivery.
type WSHub interface {
	BroadcastToUser(userID uint, message interface{})
}

// LineSender pushes a plain text message to a LINE user or group id.
type LineSender interface {
	PushText(to, text string) error
}

// Service stores notifications and pushes them. Without Redis it writes directly.
type Service struct {
	db    *gorm.DB
	redis *redis.Client
	hub   WSHub
	line  LineSender
}

func NewService(db *gorm.DB, rdb *redis.Client, hub WSHub, line LineSender) *Service {
	return &Service{db: db, redis: rdb, hub: hub, line: line}
}

func normalizeChannels(in []string) []string {
	out := []string{ChannelNormal}
	for _, ch := range in {
		if ch == ChannelLine {
			out = append(out, ChannelLine)
			break
		}
	}
	return out
}

func hasChannel(chs []string, want string) bool {
	for _, ch := range chs {
		if ch == want {
			return true
		}
	}
	return false
}

// EnqueueOrCreate stores notifications via the Redis queue when available, else directly.
func (s *Service) EnqueueOrCreate(userIDs []uint, n Payload) error {
	if len(userIDs) == 0 {
		return nil
	}
	n.UserIDs = userIDs
	n.CreatedAt = time.Now().UTC()

	if s.redis != nil {
		b, err := json.Marshal(n)
		if err != nil {
			return errors.Wrap(err, "marshal notification")
		}
		if err = s.redis.RPush(context.Background(), redisListKey, b).Err(); err == nil {
			return nil
		}
		logrus.WithError(err).Warn("notification queue unavailable, writing directly")
	}
	return s.createDirect(n)
}

// createDirect writes the rows, then pushes over websocket and LINE.
func (s *Service) createDirect(n Payload) error {
	if len(n.UserIDs) == 0 {
		return nil
	}
	rows := make([]models.Notification, 0, len(n.UserIDs))
	for _, uid := range n.UserIDs {
		rows = append(rows, models.Notification{
			UserID:     uid,
			Title:      n.Title,
			Message:    n.Message,
			Type:       n.Type,
			SourceType: n.SourceType,
			SourceID:   n.SourceID,
		})
	}
	if err := s.db.Create(&rows).Error; err != nil {
		return errors.Wrap(err, "insert notifications")
	}

	if s.hub != nil {
		for _, row := range rows {
			s.hub.BroadcastToUser(row.UserID, map[string]interface{}{
				"type": "notification",
				"data": row,
			})
		}
	}

	if s.line != nil && hasChannel(n.Channels, ChannelLine) {
		var lineIDs []string
		if err := s.db.Model(&models.User{}).
			Where("id IN ? AND line_user_id <> ''", n.UserIDs).
			Pluck("line_user_id", &lineIDs).Error; err != nil {
			logrus.WithError(err).Warn("load LINE ids")
		}
		text := n.Title + "\n" + n.Message
		for _, id := range lineIDs {
			if err := s.line.PushText(id, text); err != nil {
				logrus.WithError(err).WithField("line_user_id", id).Warn("LINE push failed")
			}
		}
	}
	return nil
}

// StartWorker drains the Redis queue every two seconds until stop is closed.
func (s *Service) StartWorker(stop <-chan struct{}) {
	if s.redis == nil {
		logrus.Info("redis notifications disabled, worker not started")
		return
	}
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		ctx := context.Background()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.flushBatch(ctx, 200)
			}
		}
	}()
}

func (s *Service) flushBatch(ctx context.Context, batchSize int) {
	for i := 0; i < 5; i++ {
		vals, err := s.redis.LRange(ctx, redisListKey, 0, int64(batchSize-1)).Result()
		if err != nil || len(vals) == 0 {
			return
		}
		if err = s.redis.LTrim(ctx, redisListKey, int64(len(vals)), -1).Err(); err != nil {
			logrus.WithError(err).Warn("notification queue trim failed")
		}
		for _, raw := range vals {
			var p Payload
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				continue
			}
			if err := s.createDirect(p); err != nil {
				logrus.WithError(err).Error("notification insert failed")
			}
		}
		if len(vals) < batchSize {
			return
		}
	}
}

// Filter narrows a user's notification list.
type Filter struct {
	Read  *bool
	Type  string
	Page  int
	Limit int
}

// List returns one page of the user's notifications, newest first.
func (s *Service) List(userID uint, f Filter) ([]models.Notification, int64, error) {
	q := s.db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if f.Read != nil {
		q = q.Where("is_read = ?", *f.Read)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count notifications")
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	var out []models.Notification
	err := q.Order("created_at DESC, id DESC").Offset((page - 1) * limit).Limit(limit).Find(&out).Error
	return out, total, errors.Wrap(err, "list notifications")
}

// MarkRead flags one notification; it reports false when the row is not the user's.
func (s *Service) MarkRead(userID, id uint) (bool, error) {
	now := time.Now().UTC()
	res := s.db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	return res.RowsAffected > 0, errors.Wrap(res.Error, "mark notification read")
}

func (s *Service) MarkAllRead(userID uint) (int64, error) {
	now := time.Now().UTC()
	res := s.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	return res.RowsAffected, errors.Wrap(res.Error, "mark all read")
}

func (s *Service) UnreadCount(userID uint) (int64, error) {
	var n int64
	err := s.db.Model(&models.Notification{}).Where("user_id = ? AND is_read = ?", userID, false).Count(&n).Error
	return n, errors.Wrap(err, "count unread")
}

func (s *Service) Delete(userID, id uint) (bool, error) {
	res := s.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	return res.RowsAffected > 0, errors.Wrap(res.Error, "delete notification")
}
