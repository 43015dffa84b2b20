package services

import (
	"regexp"
	"strings"
	"time"

	"halaqat_go/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var spaces = regexp.MustCompile(`\s+`)

// normalizeName lower-cases and collapses whitespace so names can be compared.
func normalizeName(s string) string {
	return spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// LineGroupMatcher binds LINE groups the bot joined to the halqa with the same name.
type LineGroupMatcher struct {
	db *gorm.DB
}

func NewLineGroupMatcher(db *gorm.DB) *LineGroupMatcher {
	return &LineGroupMatcher{db: db}
}

// Joined records that the bot entered a group and tries to bind it.
func (m *LineGroupMatcher) Joined(groupID, groupName string, at time.Time) (*models.LineGroup, error) {
	var lg models.LineGroup
	err := m.db.Where("group_id = ?", groupID).First(&lg).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		lg = models.LineGroup{GroupID: groupID}
	case err != nil:
		return nil, errors.Wrap(err, "load line group")
	}
	lg.GroupName = groupName
	lg.IsActive = true
	lg.LastJoinedAt = at
	lg.LastLeftAt = nil
	if err := m.db.Save(&lg).Error; err != nil {
		return nil, errors.Wrap(err, "save line group")
	}
	if err := m.Match(&lg); err != nil {
		return &lg, err
	}
	return &lg, nil
}

// Left marks a group inactive and unbinds its halqa.
func (m *LineGroupMatcher) Left(groupID string, at time.Time) error {
	var lg models.LineGroup
	if err := m.db.Where("group_id = ?", groupID).First(&lg).Error; err != nil {
		return lookup(err, "line group")
	}
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Halqa{}).Where("line_group_id = ?", groupID).Update("line_group_id", "").Error; err != nil {
			return errors.Wrap(err, "unbind halqa")
		}
		return errors.Wrap(tx.Model(&lg).Updates(map[string]any{
			"is_active":        false,
			"last_left_at":     at,
			"matched_halqa_id": nil,
		}).Error, "update line group")
	})
}

// Match binds lg to the single active halqa whose name equals the group name.
// Ambiguous names are left unbound.
func (m *LineGroupMatcher) Match(lg *models.LineGroup) error {
	want := normalizeName(lg.GroupName)
	if want == "" {
		return nil
	}
	var halaqat []models.Halqa
	if err := m.db.Where("is_active = ?", true).Find(&halaqat).Error; err != nil {
		return errors.Wrap(err, "load halaqat")
	}
	var hits []models.Halqa
	for _, h := range halaqat {
		if normalizeName(h.Name) == want {
			hits = append(hits, h)
		}
	}
	log := logrus.WithFields(logrus.Fields{"group_id": lg.GroupID, "group_name": lg.GroupName})
	switch len(hits) {
	case 0:
		log.Info("no halqa matches LINE group")
		return nil
	case 1:
	default:
		log.WithField("matches", len(hits)).Warn("LINE group name matches several halaqat, not binding")
		return nil
	}

	h := hits[0]
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Halqa{}).Where("line_group_id = ? AND id <> ?", lg.GroupID, h.ID).
			Update("line_group_id", "").Error; err != nil {
			return errors.Wrap(err, "clear previous binding")
		}
		if err := tx.Model(&models.Halqa{}).Where("id = ?", h.ID).Update("line_group_id", lg.GroupID).Error; err != nil {
			return errors.Wrap(err, "bind halqa")
		}
		return errors.Wrap(tx.Model(lg).Update("matched_halqa_id", h.ID).Error, "update line group")
	})
	if err != nil {
		return err
	}
	lg.MatchedHalqaID = uintPtr(h.ID)
	log.WithField("halqa_id", h.ID).Info("LINE group bound to halqa")
	return nil
}

// MatchAll retries binding for every active group that is still unbound.
func (m *LineGroupMatcher) MatchAll() error {
	var groups []models.LineGroup
	if err := m.db.Where("is_active = ? AND matched_halqa_id IS NULL", true).Find(&groups).Error; err != nil {
		return errors.Wrap(err, "load line groups")
	}
	for i := range groups {
		if err := m.Match(&groups[i]); err != nil {
			logrus.WithError(err).WithField("group_id", groups[i].GroupID).Warn("LINE group match failed")
		}
	}
	return nil
}
