package models

import "time"

const (
	ReportPending  = "pending"
	ReportApproved = "approved"
	ReportRejected = "rejected"
)

const (
	AttendancePresent              = "present"
	AttendanceAbsent               = "absent"
	AttendanceAbsentWithPermission = "absent_with_permission"
	AttendanceEscaped              = "escaped"
)

var AttendanceStatuses = []string{
	AttendancePresent,
	AttendanceAbsent,
	AttendanceAbsentWithPermission,
	AttendanceEscaped,
}

const (
	RecitationNewMemorization = "new_memorization"
	RecitationReview          = "review"
	RecitationRecitation      = "recitation"
	RecitationTalqeen         = "talqeen"
)

var RecitationTypes = []string{
	RecitationNewMemorization,
	RecitationReview,
	RecitationRecitation,
	RecitationTalqeen,
}

// Report is a teacher's daily record for one halqa.
type Report struct {
	BaseModel
	HalqaID     uint       `json:"halqa_id" gorm:"not null;uniqueIndex:idx_report_halqa_date"`
	CenterID    uint       `json:"center_id" gorm:"not null;index"`
	TeacherID   uint       `json:"teacher_id" gorm:"not null;index"`
	ReportDate  time.Time  `json:"report_date" gorm:"not null;uniqueIndex:idx_report_halqa_date"`
	Status      string     `json:"status" gorm:"size:16;not null;index"`
	ReviewerID  *uint      `json:"reviewer_id"`
	ReviewNotes string     `json:"review_notes" gorm:"type:text"`
	ReviewedAt  *time.Time `json:"reviewed_at"`

	Halqa   Halqa         `json:"halqa,omitempty" gorm:"foreignKey:HalqaID"`
	Entries []ReportEntry `json:"entries,omitempty" gorm:"foreignKey:ReportID"`
}

// ReportEntry is one student's line in a report.
type ReportEntry struct {
	BaseModel
	ReportID         uint   `json:"report_id" gorm:"not null;index"`
	StudentID        uint   `json:"student_id" gorm:"not null;index"`
	AttendanceStatus string `json:"attendance_status" gorm:"size:32;not null"`
	Notes            string `json:"notes" gorm:"type:text"`

	Student     *Student     `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	Recitations []Recitation `json:"recitations" gorm:"foreignKey:ReportEntryID"`
}

// Recitation is one graded memorization or review passage.
type Recitation struct {
	BaseModel
	ReportEntryID uint   `json:"report_entry_id" gorm:"not null;index"`
	SurahName     string `json:"surah_name" gorm:"size:100;not null"`
	FromAyah      int    `json:"from_ayah" gorm:"not null"`
	ToAyah        int    `json:"to_ayah" gorm:"not null"`
	Type          string `json:"type" gorm:"size:32;not null"`
	Grade         *int   `json:"grade"`
}

// Activity is an event that needs parental consent.
type Activity struct {
	BaseModel
	CenterID    uint       `json:"center_id" gorm:"not null;index"`
	Title       string     `json:"title" gorm:"size:255;not null"`
	Description string     `json:"description" gorm:"type:text"`
	StartsAt    time.Time  `json:"starts_at" gorm:"not null"`
	EndsAt      *time.Time `json:"ends_at"`
	CreatedBy   uint       `json:"created_by" gorm:"not null"`

	Halaqat   []Halqa            `json:"halaqat,omitempty" gorm:"many2many:activity_halaqat;"`
	Approvals []ActivityApproval `json:"approvals,omitempty" gorm:"foreignKey:ActivityID"`
}

// ActivityApproval is a parent's yes/no answer for one student. Approved nil means pending.
type ActivityApproval struct {
	BaseModel
	ActivityID   uint       `json:"activity_id" gorm:"not null;uniqueIndex:idx_activity_student_parent"`
	StudentID    uint       `json:"student_id" gorm:"not null;uniqueIndex:idx_activity_student_parent"`
	ParentID     uint       `json:"parent_id" gorm:"not null;uniqueIndex:idx_activity_student_parent;index"`
	Approved     *bool      `json:"approved"`
	Notes        string     `json:"notes" gorm:"type:text"`
	ResponseDate *time.Time `json:"response_date"`

	Activity *Activity `json:"activity,omitempty" gorm:"foreignKey:ActivityID"`
	Student  *Student  `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}

// Holiday is an outing or break day that needs parental consent and tracks attendance.
type Holiday struct {
	BaseModel
	CenterID    uint      `json:"center_id" gorm:"not null;index"`
	Title       string    `json:"title" gorm:"size:255;not null"`
	Description string    `json:"description" gorm:"type:text"`
	StartsOn    time.Time `json:"starts_on" gorm:"not null"`
	EndsOn      time.Time `json:"ends_on" gorm:"not null"`
	CreatedBy   uint      `json:"created_by" gorm:"not null"`

	Halaqat     []Halqa             `json:"halaqat,omitempty" gorm:"many2many:holiday_halaqat;"`
	Attendances []HolidayAttendance `json:"attendances,omitempty" gorm:"foreignKey:HolidayID"`
}

// HolidayAttendance carries parental consent and staff-marked attendance independently.
type HolidayAttendance struct {
	BaseModel
	HolidayID        uint       `json:"holiday_id" gorm:"not null;uniqueIndex:idx_holiday_student_parent"`
	StudentID        uint       `json:"student_id" gorm:"not null;uniqueIndex:idx_holiday_student_parent"`
	ParentID         uint       `json:"parent_id" gorm:"not null;uniqueIndex:idx_holiday_student_parent;index"`
	Approved         *bool      `json:"approved"`
	Attended         *bool      `json:"attended"`
	Notes            string     `json:"notes" gorm:"type:text"`
	ResponseDate     *time.Time `json:"response_date"`
	AttendedMarkedBy *uint      `json:"attended_marked_by"`

	Holiday *Holiday `json:"holiday,omitempty" gorm:"foreignKey:HolidayID"`
	Student *Student `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}
