package services

import (
	"time"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services/notifications"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ActivityInput struct {
	Title       string     `json:"title" validate:"required,max=255"`
	Description string     `json:"description"`
	StartsAt    time.Time  `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at"`
	HalqaIDs    []uint     `json:"halqa_ids" validate:"required,min=1"`
}

type HolidayInput struct {
	Title       string    `json:"title" validate:"required,max=255"`
	Description string    `json:"description"`
	StartsOn    time.Time `json:"starts_on" validate:"required"`
	EndsOn      time.Time `json:"ends_on" validate:"required"`
	HalqaIDs    []uint    `json:"halqa_ids" validate:"required,min=1"`
}

// ConsentSummary counts the answers of one activity or holiday.
type ConsentSummary struct {
	Approved int64 `json:"approved"`
	Declined int64 `json:"declined"`
	Pending  int64 `json:"pending"`
	Attended int64 `json:"attended,omitempty"`
}

type ActivityView struct {
	models.Activity
	Summary ConsentSummary `json:"summary"`
}

type HolidayView struct {
	models.Holiday
	Summary ConsentSummary `json:"summary"`
}

// PendingConsents is what a parent still has to answer.
type PendingConsents struct {
	Activities []models.ActivityApproval  `json:"activities"`
	Holidays   []models.HolidayAttendance `json:"holidays"`
}

// GroupMessenger posts a text to a LINE group.
type GroupMessenger interface {
	PushText(to, text string) error
}

// ConsentService collects parental consent for activities and holidays.
type ConsentService struct {
	db     *gorm.DB
	notify Notifier
	line   GroupMessenger
}

func NewConsentService(db *gorm.DB, notify Notifier, line GroupMessenger) *ConsentService {
	return &ConsentService{db: db, notify: notify, line: line}
}

type consentPair struct {
	StudentID uint
	ParentID  uint
}

// consentPairs lists (student, parent) for every active student of the halaqat with a linked parent.
func consentPairs(tx *gorm.DB, halqaIDs []uint) ([]consentPair, error) {
	var pairs []consentPair
	err := tx.Table("student_parents AS sp").
		Select("sp.student_id AS student_id, sp.parent_id AS parent_id").
		Joins("JOIN students AS s ON s.id = sp.student_id").
		Where("s.halqa_id IN ? AND s.is_active = ?", halqaIDs, true).
		Order("sp.student_id, sp.parent_id").
		Scan(&pairs).Error
	return pairs, errors.Wrap(err, "load consent recipients")
}

// targetHalaqat loads the selected halaqat and checks they all belong to the actor's center.
func targetHalaqat(db *gorm.DB, actor access.Actor, ids []uint) ([]models.Halqa, uint, error) {
	if len(ids) == 0 {
		return nil, 0, invalid("halqa_ids", "select at least one halqa")
	}
	var halaqat []models.Halqa
	if err := db.Where("id IN ?", ids).Find(&halaqat).Error; err != nil {
		return nil, 0, errors.Wrap(err, "load halaqat")
	}
	if len(halaqat) != len(uniqueIDs(ids)) {
		return nil, 0, invalid("halqa_ids", "unknown halqa")
	}
	centerID := halaqat[0].CenterID
	for _, h := range halaqat {
		if h.CenterID != centerID {
			return nil, 0, invalid("halqa_ids", "halaqat must belong to one center")
		}
	}
	if err := staffInCenter(actor, centerID); err != nil {
		return nil, 0, err
	}
	return halaqat, centerID, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (s *ConsentService) announce(halaqat []models.Halqa, parents []uint, title, text, source string, id uint) {
	send(s.notify, parentUserIDs(s.db, parents...),
		notifications.New(title, text, models.NotificationInfo, notifications.ChannelLine).From(source, id))
	if s.line == nil {
		return
	}
	for _, h := range halaqat {
		if h.LineGroupID == "" {
			continue
		}
		if err := s.line.PushText(h.LineGroupID, title+"\n"+text); err != nil {
			logrus.WithError(err).WithField("halqa_id", h.ID).Warn("LINE group announcement failed")
		}
	}
}

func parentsOf(pairs []consentPair) []uint {
	ids := make([]uint, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.ParentID)
	}
	return uniqueIDs(ids)
}

// CreateActivity stores the activity, its halqa links and one pending approval per
// (active student, linked parent) in one transaction.
func (s *ConsentService) CreateActivity(actor access.Actor, in ActivityInput) (*models.Activity, error) {
	if err := requireCapability(actor, access.ManageConsents); err != nil {
		return nil, err
	}
	if in.Title == "" {
		return nil, invalid("title", "title is required")
	}
	if in.StartsAt.IsZero() {
		return nil, invalid("starts_at", "start time is required")
	}
	if in.EndsAt != nil && in.EndsAt.Before(in.StartsAt) {
		return nil, invalid("ends_at", "activity cannot end before it starts")
	}
	halaqat, centerID, err := targetHalaqat(s.db, actor, in.HalqaIDs)
	if err != nil {
		return nil, err
	}

	activity := &models.Activity{
		CenterID:    centerID,
		Title:       in.Title,
		Description: in.Description,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt,
		CreatedBy:   actor.UserID,
		Halaqat:     halaqat,
	}
	var pairs []consentPair
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Halaqat.*").Create(activity).Error; err != nil {
			return errors.Wrap(err, "create activity")
		}
		var err error
		if pairs, err = consentPairs(tx, uniqueIDs(in.HalqaIDs)); err != nil {
			return err
		}
		if len(pairs) == 0 {
			return nil
		}
		rows := make([]models.ActivityApproval, 0, len(pairs))
		for _, p := range pairs {
			rows = append(rows, models.ActivityApproval{ActivityID: activity.ID, StudentID: p.StudentID, ParentID: p.ParentID})
		}
		return errors.Wrap(tx.Create(&rows).Error, "create approvals")
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"activity_id": activity.ID, "approvals": len(pairs)}).Info("activity created")
	s.announce(halaqat, parentsOf(pairs), "نشاط جديد: "+activity.Title, "يرجى الموافقة على مشاركة ابنكم", "activity", activity.ID)
	return activity, nil
}

// RespondActivity records a parent's answer. Only the first answer counts.
func (s *ConsentService) RespondActivity(actor access.Actor, approvalID uint, approved bool, notes string) (*models.ActivityApproval, error) {
	if err := requireCapability(actor, access.RespondConsents); err != nil {
		return nil, err
	}
	var row models.ActivityApproval
	if err := s.db.First(&row, approvalID).Error; err != nil {
		return nil, lookup(err, "approval")
	}
	if !actor.IsParent(row.ParentID) {
		return nil, forbidden("approval belongs to another parent")
	}
	res := s.db.Model(&models.ActivityApproval{}).
		Where("id = ? AND approved IS NULL", approvalID).
		Updates(map[string]interface{}{"approved": approved, "notes": notes, "response_date": nowUTC()})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "record approval")
	}
	if res.RowsAffected == 0 {
		return nil, conflict("approval was already answered")
	}
	if err := s.db.First(&row, approvalID).Error; err != nil {
		return nil, errors.Wrap(err, "reload approval")
	}
	return &row, nil
}

// CreateHoliday mirrors CreateActivity for holidays and outings.
func (s *ConsentService) CreateHoliday(actor access.Actor, in HolidayInput) (*models.Holiday, error) {
	if err := requireCapability(actor, access.ManageConsents); err != nil {
		return nil, err
	}
	if in.Title == "" {
		return nil, invalid("title", "title is required")
	}
	if in.StartsOn.IsZero() || in.EndsOn.IsZero() {
		return nil, invalid("starts_on", "start and end dates are required")
	}
	if in.EndsOn.Before(in.StartsOn) {
		return nil, invalid("ends_on", "holiday cannot end before it starts")
	}
	halaqat, centerID, err := targetHalaqat(s.db, actor, in.HalqaIDs)
	if err != nil {
		return nil, err
	}

	holiday := &models.Holiday{
		CenterID:    centerID,
		Title:       in.Title,
		Description: in.Description,
		StartsOn:    ReportDay(in.StartsOn),
		EndsOn:      ReportDay(in.EndsOn),
		CreatedBy:   actor.UserID,
		Halaqat:     halaqat,
	}
	var pairs []consentPair
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Halaqat.*").Create(holiday).Error; err != nil {
			return errors.Wrap(err, "create holiday")
		}
		var err error
		if pairs, err = consentPairs(tx, uniqueIDs(in.HalqaIDs)); err != nil {
			return err
		}
		if len(pairs) == 0 {
			return nil
		}
		rows := make([]models.HolidayAttendance, 0, len(pairs))
		for _, p := range pairs {
			rows = append(rows, models.HolidayAttendance{HolidayID: holiday.ID, StudentID: p.StudentID, ParentID: p.ParentID})
		}
		return errors.Wrap(tx.Create(&rows).Error, "create holiday attendance")
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"holiday_id": holiday.ID, "approvals": len(pairs)}).Info("holiday created")
	s.announce(halaqat, parentsOf(pairs), "رحلة / عطلة: "+holiday.Title, "يرجى الموافقة على مشاركة ابنكم", "holiday", holiday.ID)
	return holiday, nil
}

func (s *ConsentService) RespondHoliday(actor access.Actor, attendanceID uint, approved bool, notes string) (*models.HolidayAttendance, error) {
	if err := requireCapability(actor, access.RespondConsents); err != nil {
		return nil, err
	}
	var row models.HolidayAttendance
	if err := s.db.First(&row, attendanceID).Error; err != nil {
		return nil, lookup(err, "holiday attendance")
	}
	if !actor.IsParent(row.ParentID) {
		return nil, forbidden("record belongs to another parent")
	}
	res := s.db.Model(&models.HolidayAttendance{}).
		Where("id = ? AND approved IS NULL", attendanceID).
		Updates(map[string]interface{}{"approved": approved, "notes": notes, "response_date": nowUTC()})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "record holiday approval")
	}
	if res.RowsAffected == 0 {
		return nil, conflict("holiday consent was already answered")
	}
	if err := s.db.First(&row, attendanceID).Error; err != nil {
		return nil, errors.Wrap(err, "reload holiday attendance")
	}
	return &row, nil
}

// MarkHolidayAttendance lets staff record presence independently of the consent answer.
func (s *ConsentService) MarkHolidayAttendance(actor access.Actor, attendanceID uint, attended bool) (*models.HolidayAttendance, error) {
	if err := requireCapability(actor, access.MarkAttendance); err != nil {
		return nil, err
	}
	var row models.HolidayAttendance
	if err := s.db.Preload("Holiday").First(&row, attendanceID).Error; err != nil {
		return nil, lookup(err, "holiday attendance")
	}
	if err := staffInCenter(actor, row.Holiday.CenterID); err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.HolidayAttendance{}).Where("id = ?", attendanceID).
		Updates(map[string]interface{}{"attended": attended, "attended_marked_by": actor.UserID}).Error; err != nil {
		return nil, errors.Wrap(err, "mark attendance")
	}
	if err := s.db.First(&row, attendanceID).Error; err != nil {
		return nil, errors.Wrap(err, "reload holiday attendance")
	}
	return &row, nil
}

// Pending lists the parent's unanswered activity and holiday requests.
func (s *ConsentService) Pending(actor access.Actor) (*PendingConsents, error) {
	if err := requireCapability(actor, access.RespondConsents); err != nil {
		return nil, err
	}
	if actor.ParentID == nil {
		return nil, forbidden("only parents answer consents")
	}
	out := &PendingConsents{}
	if err := s.db.Preload("Activity").Preload("Student").
		Where("parent_id = ? AND approved IS NULL", *actor.ParentID).
		Order("id").Find(&out.Activities).Error; err != nil {
		return nil, errors.Wrap(err, "load pending activities")
	}
	if err := s.db.Preload("Holiday").Preload("Student").
		Where("parent_id = ? AND approved IS NULL", *actor.ParentID).
		Order("id").Find(&out.Holidays).Error; err != nil {
		return nil, errors.Wrap(err, "load pending holidays")
	}
	return out, nil
}

func summarize(db *gorm.DB, model interface{}, column string, id uint, withAttendance bool) (ConsentSummary, error) {
	var sum ConsentSummary
	base := db.Model(model).Where(column+" = ?", id).Session(&gorm.Session{})
	if err := base.Where("approved = ?", true).Count(&sum.Approved).Error; err != nil {
		return sum, err
	}
	if err := base.Where("approved = ?", false).Count(&sum.Declined).Error; err != nil {
		return sum, err
	}
	if err := base.Where("approved IS NULL").Count(&sum.Pending).Error; err != nil {
		return sum, err
	}
	if withAttendance {
		if err := base.Where("attended = ?", true).Count(&sum.Attended).Error; err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// ListActivities returns the center's activities with answer counts.
func (s *ConsentService) ListActivities(actor access.Actor, page Pagination) ([]ActivityView, error) {
	if !actor.Role.IsStaff() {
		return nil, forbidden("activity lists are for staff")
	}
	offset, limit := page.normalize()
	var rows []models.Activity
	if err := scopeCenter(s.db, actor, "center_id").Preload("Halaqat").
		Order("starts_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list activities")
	}
	out := make([]ActivityView, 0, len(rows))
	for _, a := range rows {
		sum, err := summarize(s.db, &models.ActivityApproval{}, "activity_id", a.ID, false)
		if err != nil {
			return nil, errors.Wrap(err, "summarize activity")
		}
		out = append(out, ActivityView{Activity: a, Summary: sum})
	}
	return out, nil
}

// GetActivity returns one activity with every approval.
func (s *ConsentService) GetActivity(actor access.Actor, id uint) (*ActivityView, error) {
	var a models.Activity
	if err := s.db.Preload("Halaqat").Preload("Approvals.Student").First(&a, id).Error; err != nil {
		return nil, lookup(err, "activity")
	}
	if staffInCenter(actor, a.CenterID) != nil {
		return nil, notFound("activity")
	}
	sum, err := summarize(s.db, &models.ActivityApproval{}, "activity_id", a.ID, false)
	if err != nil {
		return nil, errors.Wrap(err, "summarize activity")
	}
	return &ActivityView{Activity: a, Summary: sum}, nil
}

func (s *ConsentService) ListHolidays(actor access.Actor, page Pagination) ([]HolidayView, error) {
	if !actor.Role.IsStaff() {
		return nil, forbidden("holiday lists are for staff")
	}
	offset, limit := page.normalize()
	var rows []models.Holiday
	if err := scopeCenter(s.db, actor, "center_id").Preload("Halaqat").
		Order("starts_on DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list holidays")
	}
	out := make([]HolidayView, 0, len(rows))
	for _, h := range rows {
		sum, err := summarize(s.db, &models.HolidayAttendance{}, "holiday_id", h.ID, true)
		if err != nil {
			return nil, errors.Wrap(err, "summarize holiday")
		}
		out = append(out, HolidayView{Holiday: h, Summary: sum})
	}
	return out, nil
}

func (s *ConsentService) GetHoliday(actor access.Actor, id uint) (*HolidayView, error) {
	var h models.Holiday
	if err := s.db.Preload("Halaqat").Preload("Attendances.Student").First(&h, id).Error; err != nil {
		return nil, lookup(err, "holiday")
	}
	if staffInCenter(actor, h.CenterID) != nil {
		return nil, notFound("holiday")
	}
	sum, err := summarize(s.db, &models.HolidayAttendance{}, "holiday_id", h.ID, true)
	if err != nil {
		return nil, errors.Wrap(err, "summarize holiday")
	}
	return &HolidayView{Holiday: h, Summary: sum}, nil
}
