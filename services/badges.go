package services

import (
	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services/notifications"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BadgeInput struct {
	Name        string                  `json:"name" validate:"required,max=255"`
	Description string                  `json:"description"`
	PointValue  int                     `json:"point_value" validate:"gte=0"`
	Requirement models.BadgeRequirement `json:"requirement"`
	CenterID    *uint                   `json:"center_id"`
}

// BadgeService manages achievements and awards them through the ledger.
type BadgeService struct {
	db     *gorm.DB
	ledger *LedgerService
	notify Notifier
}

func NewBadgeService(db *gorm.DB, ledger *LedgerService, notify Notifier) *BadgeService {
	return &BadgeService{db: db, ledger: ledger, notify: notify}
}

func validRequirement(r models.BadgeRequirement) bool {
	switch r.Type {
	case "":
		return r.Threshold == 0
	case models.RequirementPointsTotal, models.RequirementReportsApproved, models.RequirementAttendanceStreak:
		return r.Threshold > 0
	}
	return false
}

func (s *BadgeService) Create(actor access.Actor, in BadgeInput) (*models.Badge, error) {
	if err := requireCapability(actor, access.ManageBadges); err != nil {
		return nil, err
	}
	var flds []FieldError
	if in.Name == "" {
		flds = append(flds, FieldError{Field: "name", Error: "name is required"})
	}
	if in.PointValue < 0 {
		flds = append(flds, FieldError{Field: "point_value", Error: "must not be negative"})
	}
	if !validRequirement(in.Requirement) {
		flds = append(flds, FieldError{Field: "requirement", Error: "unknown requirement or missing threshold"})
	}
	if len(flds) > 0 {
		return nil, NewValidationError("invalid badge", flds...)
	}
	centerID := actor.CenterID
	if actor.IsGlobal() {
		centerID = in.CenterID
	}
	badge := &models.Badge{
		CenterID:    centerID,
		Name:        in.Name,
		Description: in.Description,
		PointValue:  in.PointValue,
		Requirement: datatypes.NewJSONType(in.Requirement),
		IsActive:    true,
	}
	if err := s.db.Create(badge).Error; err != nil {
		return nil, errors.Wrap(err, "create badge")
	}
	return badge, nil
}

// List returns active badges offered to the actor's center.
func (s *BadgeService) List(actor access.Actor) ([]models.Badge, error) {
	q := s.db.Where("is_active = ?", true)
	if !actor.IsGlobal() {
		q = q.Where("center_id IS NULL OR center_id = ?", actor.CenterOrZero())
	}
	var out []models.Badge
	return out, errors.Wrap(q.Order("name").Find(&out).Error, "list badges")
}

func (s *BadgeService) Deactivate(actor access.Actor, id uint) error {
	if err := requireCapability(actor, access.ManageBadges); err != nil {
		return err
	}
	var b models.Badge
	if err := s.db.First(&b, id).Error; err != nil {
		return lookup(err, "badge")
	}
	if !actor.IsGlobal() && (b.CenterID == nil || !actor.InCenter(*b.CenterID)) {
		return forbidden("badge belongs to another center")
	}
	return errors.Wrap(s.db.Model(&b).Update("is_active", false).Error, "deactivate badge")
}

// Award records the badge event and credits one badge plus the badge's point value.
func (s *BadgeService) Award(actor access.Actor, badgeID, studentID uint) (*models.StudentBadge, error) {
	if err := requireCapability(actor, access.AwardBadges); err != nil {
		return nil, err
	}
	var badge models.Badge
	if err := s.db.First(&badge, badgeID).Error; err != nil {
		return nil, lookup(err, "badge")
	}
	if !badge.IsActive {
		return nil, invalid("badge_id", "badge is inactive")
	}
	st, err := loadStudent(s.db, studentID)
	if err != nil {
		return nil, err
	}
	if err := staffInCenter(actor, st.CenterID); err != nil {
		return nil, err
	}
	if badge.CenterID != nil && *badge.CenterID != st.CenterID {
		return nil, invalid("badge_id", "badge is not offered in this center")
	}

	award := &models.StudentBadge{BadgeID: badgeID, StudentID: studentID, AwardedBy: uintPtr(actor.UserID), AwardedAt: nowUTC()}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockRow(tx, "students", studentID); err != nil {
			return err
		}
		if err := tx.Create(award).Error; err != nil {
			return errors.Wrap(err, "create award")
		}
		for _, e := range []models.LedgerEntry{
			{Currency: models.CurrencyBadges, Delta: 1},
			{Currency: models.CurrencyPoints, Delta: badge.PointValue},
		} {
			e.SubjectType = models.SubjectStudent
			e.SubjectID = studentID
			e.Kind = models.EntryEarn
			e.Reason = "وسام: " + badge.Name
			e.SourceType = "badge"
			e.SourceID = uintPtr(award.ID)
			e.CreatedBy = uintPtr(actor.UserID)
			if err := appendEntry(tx, &e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"badge_id": badgeID, "student_id": studentID}).Info("badge awarded")
	send(s.notify, studentUserIDs(s.db, studentID),
		notifications.New("حصلت على وسام", badge.Name, models.NotificationSuccess).From("badge", award.ID))
	award.Badge = badge
	return award, nil
}

// Awards lists a student's badges, newest first.
func (s *BadgeService) Awards(actor access.Actor, studentID uint) ([]models.StudentBadge, error) {
	st, err := loadStudent(s.db, studentID)
	if err != nil {
		return nil, err
	}
	if err := canSeeStudent(s.db, actor, st); err != nil {
		return nil, err
	}
	var out []models.StudentBadge
	err = s.db.Preload("Badge").Where("student_id = ?", studentID).Order("awarded_at DESC, id DESC").Find(&out).Error
	return out, errors.Wrap(err, "list awards")
}

type presenceRow struct {
	AttendanceStatus string
}

// approvedPresence returns the student's attendance on approved reports, most recent first.
func approvedPresence(db *gorm.DB, studentID uint) ([]presenceRow, error) {
	var rows []presenceRow
	err := db.Table("report_entries AS e").
		Select("e.attendance_status AS attendance_status").
		Joins("JOIN reports AS r ON r.id = e.report_id").
		Where("e.student_id = ? AND r.status = ?", studentID, models.ReportApproved).
		Order("r.report_date DESC").
		Scan(&rows).Error
	return rows, errors.Wrap(err, "load attendance history")
}

// Progress measures a student against each requirement type.
func (s *BadgeService) Progress(studentID uint) (map[string]int, error) {
	total, err := s.ledger.TotalPoints(studentID)
	if err != nil {
		return nil, err
	}
	rows, err := approvedPresence(s.db, studentID)
	if err != nil {
		return nil, err
	}
	present, streak, broken := 0, 0, false
	for _, r := range rows {
		if r.AttendanceStatus == models.AttendancePresent {
			present++
			if !broken {
				streak++
			}
		} else {
			broken = true
		}
	}
	return map[string]int{
		models.RequirementPointsTotal:      total,
		models.RequirementReportsApproved:  present,
		models.RequirementAttendanceStreak: streak,
	}, nil
}

// Eligible lists active badges whose requirement the student meets and does not hold yet.
func (s *BadgeService) Eligible(actor access.Actor, studentID uint) ([]models.Badge, error) {
	st, err := loadStudent(s.db, studentID)
	if err != nil {
		return nil, err
	}
	if err := canSeeStudent(s.db, actor, st); err != nil {
		return nil, err
	}
	progress, err := s.Progress(studentID)
	if err != nil {
		return nil, err
	}
	var held []uint
	if err := s.db.Model(&models.StudentBadge{}).Where("student_id = ?", studentID).Pluck("badge_id", &held).Error; err != nil {
		return nil, errors.Wrap(err, "load held badges")
	}
	owned := make(map[uint]bool, len(held))
	for _, id := range held {
		owned[id] = true
	}

	var badges []models.Badge
	if err := s.db.Where("is_active = ? AND (center_id IS NULL OR center_id = ?)", true, st.CenterID).
		Order("name").Find(&badges).Error; err != nil {
		return nil, errors.Wrap(err, "load badges")
	}
	out := make([]models.Badge, 0)
	for _, b := range badges {
		req := b.Requirement.Data()
		if owned[b.ID] || req.Type == "" {
			continue
		}
		if progress[req.Type] >= req.Threshold {
			out = append(out, b)
		}
	}
	return out, nil
}
