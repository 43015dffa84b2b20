package services

import (
	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services/notifications"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notifier delivers user notifications. Services accept nil and then stay silent.
type Notifier interface {
	EnqueueOrCreate(userIDs []uint, n notifications.Payload) error
}

func send(n Notifier, userIDs []uint, p notifications.Payload) {
	if n == nil || len(userIDs) == 0 {
		return
	}
	if err := n.EnqueueOrCreate(userIDs, p); err != nil {
		logrus.WithError(err).WithField("title", p.Title).Warn("notification not delivered")
	}
}

// staffUserIDs returns active users of the given roles inside a center.
func staffUserIDs(db *gorm.DB, centerID uint, roles ...access.Role) []uint {
	var ids []uint
	if err := db.Model(&models.User{}).
		Where("center_id = ? AND role IN ? AND status = ?", centerID, roles, models.UserStatusActive).
		Pluck("id", &ids).Error; err != nil {
		logrus.WithError(err).Warn("load staff recipients")
	}
	return ids
}

// studentUserIDs maps student ids to their login ids, skipping students without accounts.
func studentUserIDs(db *gorm.DB, studentIDs ...uint) []uint {
	var ids []uint
	if len(studentIDs) == 0 {
		return nil
	}
	if err := db.Model(&models.Student{}).
		Where("id IN ? AND user_id IS NOT NULL", studentIDs).
		Pluck("user_id", &ids).Error; err != nil {
		logrus.WithError(err).Warn("load student recipients")
	}
	return ids
}

func parentUserIDs(db *gorm.DB, parentIDs ...uint) []uint {
	var ids []uint
	if len(parentIDs) == 0 {
		return nil
	}
	if err := db.Model(&models.Parent{}).
		Where("id IN ? AND user_id IS NOT NULL", parentIDs).
		Pluck("user_id", &ids).Error; err != nil {
		logrus.WithError(err).Warn("load parent recipients")
	}
	return ids
}

func teacherUserID(db *gorm.DB, teacherID uint) []uint {
	var t models.Teacher
	if err := db.Select("user_id").First(&t, teacherID).Error; err != nil {
		return nil
	}
	return []uint{t.UserID}
}
