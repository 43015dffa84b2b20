package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NotificationInfo    = "info"
	NotificationWarning = "warning"
	NotificationError   = "error"
	NotificationSuccess = "success"
)

// Notification model
type Notification struct {
	BaseModel
	UserID     uint       `json:"user_id" gorm:"not null;index"`
	Title      string     `json:"title" gorm:"size:255;not null"`
	Message    string     `json:"message" gorm:"type:text;not null"`
	Type       string     `json:"type" gorm:"size:20;not null"`
	Read       bool       `json:"read" gorm:"column:is_read;not null"`
	ReadAt     *time.Time `json:"read_at"`
	SourceType string     `json:"source_type,omitempty" gorm:"size:32"`
	SourceID   *uint      `json:"source_id,omitempty"`
}

// ActivityLog is the audit trail of mutating requests.
type ActivityLog struct {
	BaseModel
	UserID     uint           `json:"user_id" gorm:"index"`
	CenterID   *uint          `json:"center_id" gorm:"index"`
	Action     string         `json:"action" gorm:"size:100;not null"`
	Resource   string         `json:"resource" gorm:"size:100;not null"`
	ResourceID uint           `json:"resource_id"`
	Details    datatypes.JSON `json:"details"`
	IPAddress  string         `json:"ip_address" gorm:"size:45"`
	UserAgent  string         `json:"user_agent" gorm:"size:500"`
}

const (
	ArchivePending   = "pending"
	ArchiveCompleted = "completed"
	ArchiveFailed    = "failed"
)

// LogArchive tracks a batch of activity logs moved to object storage.
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	StartDate   time.Time `json:"start_date" gorm:"not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:20;not null"`
	Error       string    `json:"error" gorm:"type:text"`
}

// LineGroup is a LINE chat the bot has joined. MatchedHalqaID is set once its name matches a halqa.
type LineGroup struct {
	BaseModel
	GroupID        string     `json:"group_id" gorm:"size:100;not null;uniqueIndex"`
	GroupName      string     `json:"group_name" gorm:"size:255"`
	MatchedHalqaID *uint      `json:"matched_halqa_id" gorm:"index"`
	IsActive       bool       `json:"is_active" gorm:"not null"`
	LastJoinedAt   time.Time  `json:"last_joined_at"`
	LastLeftAt     *time.Time `json:"last_left_at"`
}
