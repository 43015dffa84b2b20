package services

import (
	"halaqat_go/access"
	"halaqat_go/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Balance is the derived view of a student's ledger.
type Balance struct {
	StudentID       uint `json:"student_id"`
	AvailablePoints int  `json:"available_points"`
	TotalPoints     int  `json:"total_points"`
	AvailableBadges int  `json:"available_badges"`
}

// GrantInput is a manual staff adjustment.
type GrantInput struct {
	SubjectType string `json:"subject_type" validate:"required,oneof=student halqa"`
	SubjectID   uint   `json:"subject_id" validate:"required"`
	Currency    string `json:"currency" validate:"omitempty,oneof=points badges"`
	Delta       int    `json:"delta" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=255"`
}

// LedgerService answers balance queries by re-aggregating entries on every read.
type LedgerService struct {
	db *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

func sumDelta(db *gorm.DB, subjectType string, subjectID uint, currency string, kinds ...string) (int, error) {
	var total int64
	q := db.Model(&models.LedgerEntry{}).
		Where("subject_type = ? AND subject_id = ? AND currency = ?", subjectType, subjectID, currency)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	if err := q.Select("COALESCE(SUM(delta), 0)").Scan(&total).Error; err != nil {
		return 0, errors.Wrap(err, "sum ledger")
	}
	return int(total), nil
}

// AvailablePoints is the sum of every point entry of the student.
func (s *LedgerService) AvailablePoints(studentID uint) (int, error) {
	return sumDelta(s.db, models.SubjectStudent, studentID, models.CurrencyPoints)
}

// TotalPoints is the lifetime earned points: earn and adjust entries only.
func (s *LedgerService) TotalPoints(studentID uint) (int, error) {
	return sumDelta(s.db, models.SubjectStudent, studentID, models.CurrencyPoints, models.EntryEarn, models.EntryAdjust)
}

func (s *LedgerService) AvailableBadges(studentID uint) (int, error) {
	return sumDelta(s.db, models.SubjectStudent, studentID, models.CurrencyBadges)
}

// GroupTotalPoints is the spendable balance of a halqa.
func (s *LedgerService) GroupTotalPoints(halqaID uint) (int, error) {
	return sumDelta(s.db, models.SubjectHalqa, halqaID, models.CurrencyPoints)
}

// Balance returns the three student figures after checking the caller may see the student.
func (s *LedgerService) Balance(actor access.Actor, studentID uint) (*Balance, error) {
	if err := requireCapability(actor, access.ViewLedger); err != nil {
		return nil, err
	}
	st, err := loadStudent(s.db, studentID)
	if err != nil {
		return nil, err
	}
	if err := canSeeStudent(s.db, actor, st); err != nil {
		return nil, err
	}

	b := &Balance{StudentID: studentID}
	if b.AvailablePoints, err = s.AvailablePoints(studentID); err != nil {
		return nil, err
	}
	if b.TotalPoints, err = s.TotalPoints(studentID); err != nil {
		return nil, err
	}
	if b.AvailableBadges, err = s.AvailableBadges(studentID); err != nil {
		return nil, err
	}
	return b, nil
}

// GroupBalance returns a halqa's spendable points for staff of its center and its students.
func (s *LedgerService) GroupBalance(actor access.Actor, halqaID uint) (int, error) {
	h, err := loadHalqa(s.db, halqaID)
	if err != nil {
		return 0, err
	}
	if !actor.Role.IsStaff() || !actor.InCenter(h.CenterID) {
		if actor.StudentID == nil {
			return 0, forbidden("halqa is outside your scope")
		}
		st, err := loadStudent(s.db, *actor.StudentID)
		if err != nil || st.HalqaID != halqaID {
			return 0, forbidden("halqa is outside your scope")
		}
	}
	return s.GroupTotalPoints(halqaID)
}

// Grant appends a manual adjustment. The subject row is locked so a negative adjustment
// cannot race a purchase into a negative balance.
func (s *LedgerService) Grant(actor access.Actor, in GrantInput) (*models.LedgerEntry, error) {
	if err := requireCapability(actor, access.GrantPoints); err != nil {
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = models.CurrencyPoints
	}
	if in.Delta == 0 {
		return nil, invalid("delta", "delta must not be zero")
	}
	if in.Reason == "" {
		return nil, invalid("reason", "reason is required")
	}

	var centerID uint
	var table string
	switch in.SubjectType {
	case models.SubjectStudent:
		st, err := loadStudent(s.db, in.SubjectID)
		if err != nil {
			return nil, err
		}
		centerID, table = st.CenterID, "students"
	case models.SubjectHalqa:
		h, err := loadHalqa(s.db, in.SubjectID)
		if err != nil {
			return nil, err
		}
		centerID, table = h.CenterID, "halaqat"
	default:
		return nil, invalid("subject_type", "subject_type must be student or halqa")
	}
	if err := staffInCenter(actor, centerID); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		SubjectType: in.SubjectType,
		SubjectID:   in.SubjectID,
		Currency:    in.Currency,
		Delta:       in.Delta,
		Kind:        models.EntryAdjust,
		Reason:      in.Reason,
		SourceType:  "manual",
		CreatedBy:   uintPtr(actor.UserID),
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockRow(tx, table, in.SubjectID); err != nil {
			return err
		}
		if in.Delta < 0 {
			bal, err := sumDelta(tx, in.SubjectType, in.SubjectID, in.Currency)
			if err != nil {
				return err
			}
			if bal+in.Delta < 0 {
				return invalid("delta", "adjustment would make the balance negative")
			}
		}
		return appendEntry(tx, entry)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"subject":  in.SubjectType,
		"id":       in.SubjectID,
		"currency": in.Currency,
		"delta":    in.Delta,
		"by":       actor.UserID,
	}).Info("ledger adjustment recorded")
	return entry, nil
}

// History lists a subject's entries newest first.
func (s *LedgerService) History(actor access.Actor, subjectType string, subjectID uint, page Pagination) ([]models.LedgerEntry, int64, error) {
	if err := requireCapability(actor, access.ViewLedger); err != nil {
		return nil, 0, err
	}
	switch subjectType {
	case models.SubjectStudent:
		st, err := loadStudent(s.db, subjectID)
		if err != nil {
			return nil, 0, err
		}
		if err := canSeeStudent(s.db, actor, st); err != nil {
			return nil, 0, err
		}
	case models.SubjectHalqa:
		if _, err := s.GroupBalance(actor, subjectID); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, invalid("subject_type", "subject_type must be student or halqa")
	}

	q := s.db.Model(&models.LedgerEntry{}).Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count ledger")
	}
	offset, limit := page.normalize()
	var entries []models.LedgerEntry
	if err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list ledger")
	}
	return entries, total, nil
}

// appendEntry is the only writer of ledger rows.
func appendEntry(tx *gorm.DB, e *models.LedgerEntry) error {
	if e.Delta == 0 {
		return nil
	}
	return errors.Wrap(tx.Create(e).Error, "append ledger entry")
}
