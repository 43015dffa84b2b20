package services

import (
	"fmt"
	"time"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services/notifications"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const reasonDailyReport = "تقرير يومي"

type RecitationInput struct {
	SurahName string `json:"surah_name" validate:"required"`
	FromAyah  int    `json:"from_ayah" validate:"gte=1"`
	ToAyah    int    `json:"to_ayah" validate:"gte=1,gtefield=FromAyah"`
	Type      string `json:"type" validate:"required"`
	Grade     *int   `json:"grade" validate:"omitempty,gte=0,lte=10"`
}

type EntryInput struct {
	StudentID        uint              `json:"student_id" validate:"required"`
	AttendanceStatus string            `json:"attendance_status" validate:"required"`
	Notes            string            `json:"notes"`
	Recitations      []RecitationInput `json:"recitations" validate:"dive"`
}

type ReportInput struct {
	HalqaID    uint
	ReportDate time.Time
	Entries    []EntryInput
}

// ResubmitInput carries the replacement entries; the halqa and date of a filed report never change.
type ResubmitInput struct {
	Entries []EntryInput `json:"entries" validate:"required,min=1,dive"`
}

type ReportFilter struct {
	HalqaID uint
	Status  string
	From    *time.Time
	To      *time.Time
	Pagination
}

// ReportService handles the daily attendance and recitation report and its review.
type ReportService struct {
	db               *gorm.DB
	notify           Notifier
	attendancePoints int
}

func NewReportService(db *gorm.DB, notify Notifier, attendancePoints int) *ReportService {
	return &ReportService{db: db, notify: notify, attendancePoints: attendancePoints}
}

// ReportDay truncates t to the UTC calendar day a report is keyed on.
func ReportDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// validateEntries checks every entry and recitation and that students belong to the halqa.
func validateEntries(tx *gorm.DB, halqaID uint, entries []EntryInput) error {
	if len(entries) == 0 {
		return invalid("entries", "at least one student entry is required")
	}
	var members []uint
	if err := tx.Model(&models.Student{}).Where("halqa_id = ?", halqaID).Pluck("id", &members).Error; err != nil {
		return errors.Wrap(err, "load halqa members")
	}
	inHalqa := make(map[uint]bool, len(members))
	for _, id := range members {
		inHalqa[id] = true
	}

	var flds []FieldError
	seen := map[uint]bool{}
	for i, e := range entries {
		at := fmt.Sprintf("entries[%d]", i)
		if !inHalqa[e.StudentID] {
			flds = append(flds, FieldError{Field: at + ".student_id", Error: "student is not in this halqa"})
		}
		if seen[e.StudentID] {
			flds = append(flds, FieldError{Field: at + ".student_id", Error: "student listed twice"})
		}
		seen[e.StudentID] = true
		if !oneOf(e.AttendanceStatus, models.AttendanceStatuses) {
			flds = append(flds, FieldError{Field: at + ".attendance_status", Error: "unknown attendance status"})
		}
		for j, r := range e.Recitations {
			rat := fmt.Sprintf("%s.recitations[%d]", at, j)
			if r.SurahName == "" {
				flds = append(flds, FieldError{Field: rat + ".surah_name", Error: "surah is required"})
			}
			if r.FromAyah < 1 || r.ToAyah < 1 {
				flds = append(flds, FieldError{Field: rat + ".ayah", Error: "ayah numbers start at 1"})
			} else if r.ToAyah < r.FromAyah {
				flds = append(flds, FieldError{Field: rat + ".to_ayah", Error: "to_ayah must not precede from_ayah"})
			}
			if !oneOf(r.Type, models.RecitationTypes) {
				flds = append(flds, FieldError{Field: rat + ".type", Error: "unknown recitation type"})
			}
			if r.Grade != nil && (*r.Grade < 0 || *r.Grade > 10) {
				flds = append(flds, FieldError{Field: rat + ".grade", Error: "grade must be between 0 and 10"})
			}
		}
	}
	if len(flds) > 0 {
		return NewValidationError("invalid report", flds...)
	}
	return nil
}

func insertEntries(tx *gorm.DB, reportID uint, entries []EntryInput) error {
	for _, e := range entries {
		row := models.ReportEntry{
			ReportID:         reportID,
			StudentID:        e.StudentID,
			AttendanceStatus: e.AttendanceStatus,
			Notes:            e.Notes,
		}
		for _, r := range e.Recitations {
			row.Recitations = append(row.Recitations, models.Recitation{
				SurahName: r.SurahName,
				FromAyah:  r.FromAyah,
				ToAyah:    r.ToAyah,
				Type:      r.Type,
				Grade:     r.Grade,
			})
		}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "insert report entry")
		}
	}
	return nil
}

// authorFor resolves the teacher a report is filed under and checks the actor may file it.
func authorFor(actor access.Actor, h *models.Halqa) (uint, error) {
	if err := requireCapability(actor, access.SubmitReports); err != nil {
		return 0, err
	}
	if err := staffInCenter(actor, h.CenterID); err != nil {
		return 0, err
	}
	if actor.TeacherID != nil {
		if h.TeacherID == nil || *h.TeacherID != *actor.TeacherID {
			if !actor.Can(access.ReviewReports) {
				return 0, forbidden("you do not teach this halqa")
			}
		}
		return *actor.TeacherID, nil
	}
	if h.TeacherID == nil {
		return 0, invalid("halqa_id", "halqa has no teacher assigned")
	}
	return *h.TeacherID, nil
}

// Roster returns the saved report for the day, or a draft listing every active student as present.
func (s *ReportService) Roster(actor access.Actor, halqaID uint, day time.Time) (*models.Report, error) {
	h, err := loadHalqa(s.db, halqaID)
	if err != nil {
		return nil, err
	}
	if _, err := authorFor(actor, h); err != nil {
		if !actor.Can(access.ReviewReports) || staffInCenter(actor, h.CenterID) != nil {
			return nil, err
		}
	}
	day = ReportDay(day)

	var existing models.Report
	err = s.db.Preload("Entries.Recitations").Preload("Entries.Student").
		Where("halqa_id = ? AND report_date = ?", halqaID, day).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "load report")
	}

	var students []models.Student
	if err := s.db.Where("halqa_id = ? AND is_active = ?", halqaID, true).Order("full_name").Find(&students).Error; err != nil {
		return nil, errors.Wrap(err, "load roster")
	}
	draft := &models.Report{HalqaID: halqaID, CenterID: h.CenterID, ReportDate: day}
	for i := range students {
		draft.Entries = append(draft.Entries, models.ReportEntry{
			StudentID:        students[i].ID,
			AttendanceStatus: models.AttendancePresent,
			Student:          &students[i],
			Recitations:      []models.Recitation{},
		})
	}
	return draft, nil
}

// Submit creates a report with all its entries and recitations in one transaction.
func (s *ReportService) Submit(actor access.Actor, in ReportInput) (*models.Report, error) {
	h, err := loadHalqa(s.db, in.HalqaID)
	if err != nil {
		return nil, err
	}
	teacherID, err := authorFor(actor, h)
	if err != nil {
		return nil, err
	}
	if in.ReportDate.IsZero() {
		return nil, invalid("report_date", "report date is required")
	}
	day := ReportDay(in.ReportDate)

	report := &models.Report{
		HalqaID:    h.ID,
		CenterID:   h.CenterID,
		TeacherID:  teacherID,
		ReportDate: day,
		Status:     models.ReportPending,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := validateEntries(tx, h.ID, in.Entries); err != nil {
			return err
		}
		var dup int64
		if err := tx.Model(&models.Report{}).Where("halqa_id = ? AND report_date = ?", h.ID, day).Count(&dup).Error; err != nil {
			return errors.Wrap(err, "check duplicate report")
		}
		if dup > 0 {
			return conflict("a report for this halqa and date already exists")
		}
		if err := tx.Create(report).Error; err != nil {
			return conflict("a report for this halqa and date already exists")
		}
		return insertEntries(tx, report.ID, in.Entries)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"report_id": report.ID, "halqa_id": h.ID, "entries": len(in.Entries)}).Info("report submitted")
	send(s.notify, staffUserIDs(s.db, h.CenterID, access.RoleCommunicationOfficer),
		notifications.New("تقرير جديد", "تقرير "+h.Name+" بانتظار المراجعة", models.NotificationInfo).From("report", report.ID))
	return s.load(report.ID)
}

// Resubmit replaces the entries of a pending or rejected report and puts it back to pending.
func (s *ReportService) Resubmit(actor access.Actor, reportID uint, in ResubmitInput) (*models.Report, error) {
	if err := requireCapability(actor, access.SubmitReports); err != nil {
		return nil, err
	}
	var report models.Report
	if err := s.db.First(&report, reportID).Error; err != nil {
		return nil, lookup(err, "report")
	}
	if !actor.IsTeacher(report.TeacherID) {
		return nil, forbidden("only the authoring teacher can resubmit")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := validateEntries(tx, report.HalqaID, in.Entries); err != nil {
			return err
		}
		res := tx.Model(&models.Report{}).
			Where("id = ? AND status IN ?", reportID, []string{models.ReportPending, models.ReportRejected}).
			Updates(map[string]interface{}{
				"status":       models.ReportPending,
				"reviewer_id":  nil,
				"review_notes": "",
				"reviewed_at":  nil,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "reset report")
		}
		if res.RowsAffected == 0 {
			return conflict("approved reports cannot be changed")
		}
		entryIDs := tx.Model(&models.ReportEntry{}).Select("id").Where("report_id = ?", reportID)
		if err := tx.Where("report_entry_id IN (?)", entryIDs).Delete(&models.Recitation{}).Error; err != nil {
			return errors.Wrap(err, "delete recitations")
		}
		if err := tx.Where("report_id = ?", reportID).Delete(&models.ReportEntry{}).Error; err != nil {
			return errors.Wrap(err, "delete entries")
		}
		return insertEntries(tx, reportID, in.Entries)
	})
	if err != nil {
		return nil, err
	}
	logrus.WithField("report_id", reportID).Info("report resubmitted")
	return s.load(reportID)
}

// Review approves or rejects a pending report. Approval grants attendance and recitation points.
func (s *ReportService) Review(actor access.Actor, reportID uint, approve bool, notes string) (*models.Report, error) {
	if err := requireCapability(actor, access.ReviewReports); err != nil {
		return nil, err
	}
	report, err := s.load(reportID)
	if err != nil {
		return nil, err
	}
	if err := staffInCenter(actor, report.CenterID); err != nil {
		return nil, err
	}
	status := models.ReportRejected
	if approve {
		status = models.ReportApproved
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Report{}).
			Where("id = ? AND status = ?", reportID, models.ReportPending).
			Updates(map[string]interface{}{
				"status":       status,
				"reviewer_id":  actor.UserID,
				"review_notes": notes,
				"reviewed_at":  nowUTC(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "review report")
		}
		if res.RowsAffected == 0 {
			return conflict("report is not pending")
		}
		if !approve {
			return nil
		}
		for _, e := range report.Entries {
			pts := 0
			if e.AttendanceStatus == models.AttendancePresent {
				pts += s.attendancePoints
			}
			for _, r := range e.Recitations {
				if r.Grade != nil {
					pts += *r.Grade
				}
			}
			if err := appendEntry(tx, &models.LedgerEntry{
				SubjectType: models.SubjectStudent,
				SubjectID:   e.StudentID,
				Currency:    models.CurrencyPoints,
				Delta:       pts,
				Kind:        models.EntryEarn,
				Reason:      reasonDailyReport,
				SourceType:  "report",
				SourceID:    uintPtr(reportID),
				CreatedBy:   uintPtr(actor.UserID),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"report_id": reportID, "status": status, "by": actor.UserID}).Info("report reviewed")
	title := "تم اعتماد التقرير"
	if !approve {
		title = "تم رفض التقرير"
	}
	msg := notes
	if msg == "" {
		msg = fmt.Sprintf("تقرير %s", report.ReportDate.UTC().Format("2006-01-02"))
	}
	send(s.notify, teacherUserID(s.db, report.TeacherID),
		notifications.New(title, msg, models.NotificationInfo).From("report", reportID))
	return s.load(reportID)
}

func (s *ReportService) load(id uint) (*models.Report, error) {
	var r models.Report
	err := s.db.Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Entries.Recitations", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Entries.Student").
		First(&r, id).Error
	if err != nil {
		return nil, lookup(err, "report")
	}
	return &r, nil
}

// Get returns a report to staff of its center.
func (s *ReportService) Get(actor access.Actor, id uint) (*models.Report, error) {
	r, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if staffInCenter(actor, r.CenterID) != nil {
		return nil, notFound("report")
	}
	if !actor.Can(access.ReviewReports) && !actor.IsTeacher(r.TeacherID) {
		return nil, notFound("report")
	}
	return r, nil
}

// List returns reports; teachers without review rights see only their own.
func (s *ReportService) List(actor access.Actor, f ReportFilter) ([]models.Report, int64, error) {
	if !actor.Role.IsStaff() {
		return nil, 0, forbidden("reports are for staff")
	}
	q := scopeCenter(s.db.Model(&models.Report{}), actor, "center_id")
	if !actor.Can(access.ReviewReports) {
		if actor.TeacherID == nil {
			return nil, 0, forbidden("no report scope")
		}
		q = q.Where("teacher_id = ?", *actor.TeacherID)
	}
	if f.HalqaID != 0 {
		q = q.Where("halqa_id = ?", f.HalqaID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("report_date >= ?", ReportDay(*f.From))
	}
	if f.To != nil {
		q = q.Where("report_date <= ?", ReportDay(*f.To))
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count reports")
	}
	offset, limit := f.normalize()
	var out []models.Report
	err := q.Preload("Halqa").Order("report_date DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, errors.Wrap(err, "list reports")
}

// MissingReports lists active halaqat with a teacher but no report for day.
func (s *ReportService) MissingReports(day time.Time) ([]models.Halqa, error) {
	day = ReportDay(day)
	filed := s.db.Model(&models.Report{}).Select("halqa_id").Where("report_date = ?", day)
	var out []models.Halqa
	err := s.db.Where("is_active = ? AND teacher_id IS NOT NULL AND id NOT IN (?)", true, filed).Find(&out).Error
	return out, errors.Wrap(err, "find missing reports")
}

// RemindMissing notifies every teacher who has not filed today's report.
func (s *ReportService) RemindMissing(day time.Time) (int, error) {
	halaqat, err := s.MissingReports(day)
	if err != nil {
		return 0, err
	}
	for _, h := range halaqat {
		send(s.notify, teacherUserID(s.db, *h.TeacherID),
			notifications.New("تذكير بالتقرير اليومي", "لم يتم رفع تقرير "+h.Name+" لهذا اليوم", models.NotificationWarning, notifications.ChannelLine).
				From("halqa", h.ID))
	}
	return len(halaqat), nil
}
