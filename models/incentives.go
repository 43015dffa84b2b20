package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SubjectStudent = "student"
	SubjectHalqa   = "halqa"

	CurrencyPoints = "points"
	CurrencyBadges = "badges"

	EntryEarn   = "earn"
	EntrySpend  = "spend"
	EntryRefund = "refund"
	EntryAdjust = "adjust"
)

// LedgerEntry is an immutable signed grant or spend. Balances are always derived by summing
// entries for a subject; nothing stores a running total.
type LedgerEntry struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SubjectType string    `json:"subject_type" gorm:"size:16;not null;index:idx_ledger_subject,priority:1"`
	SubjectID   uint      `json:"subject_id" gorm:"not null;index:idx_ledger_subject,priority:2"`
	Currency    string    `json:"currency" gorm:"size:16;not null;index:idx_ledger_subject,priority:3"`
	Delta       int       `json:"delta" gorm:"not null"`
	Kind        string    `json:"kind" gorm:"size:16;not null"`
	Reason      string    `json:"reason" gorm:"size:255;not null"`
	SourceType  string    `json:"source_type,omitempty" gorm:"size:32"`
	SourceID    *uint     `json:"source_id,omitempty"`
	CreatedBy   *uint     `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

const (
	RequirementPointsTotal      = "points_total"
	RequirementReportsApproved  = "reports_approved"
	RequirementAttendanceStreak = "attendance_streak"
)

// BadgeRequirement describes when a badge becomes earnable.
type BadgeRequirement struct {
	Type      string `json:"type"`
	Threshold int    `json:"threshold"`
}

// Badge is a named achievement. CenterID nil means the badge is global.
type Badge struct {
	BaseModel
	CenterID    *uint                                `json:"center_id" gorm:"index"`
	Name        string                               `json:"name" gorm:"size:255;not null"`
	Description string                               `json:"description" gorm:"type:text"`
	PointValue  int                                  `json:"point_value" gorm:"not null"`
	Requirement datatypes.JSONType[BadgeRequirement] `json:"requirement"`
	IsActive    bool                                 `json:"is_active" gorm:"not null"`
}

// StudentBadge records one award of a badge.
type StudentBadge struct {
	BaseModel
	BadgeID   uint      `json:"badge_id" gorm:"not null;index"`
	StudentID uint      `json:"student_id" gorm:"not null;index"`
	AwardedBy *uint     `json:"awarded_by"`
	AwardedAt time.Time `json:"awarded_at" gorm:"not null"`

	Badge Badge `json:"badge,omitempty" gorm:"foreignKey:BadgeID"`
}

const (
	ScopeStudent = "student"
	ScopeGroup   = "group"
)

// CatalogItem is a redeemable reward. CenterID nil means created by a super admin for all centers.
type CatalogItem struct {
	BaseModel
	CenterID      *uint  `json:"center_id" gorm:"index"`
	Name          string `json:"name" gorm:"size:255;not null"`
	Description   string `json:"description" gorm:"type:text"`
	PointsCost    int    `json:"points_cost" gorm:"not null"`
	BadgesCost    int    `json:"badges_cost" gorm:"not null"`
	Scope         string `json:"scope" gorm:"size:16;not null"`
	StockQuantity *int   `json:"stock_quantity"`
	ImageURL      string `json:"image_url" gorm:"size:500"`
	IsActive      bool   `json:"is_active" gorm:"not null"`
}

const (
	PurchasePending   = "pending"
	PurchaseDelivered = "delivered"
	PurchaseRejected  = "rejected"
)

// PurchaseRequest is a redemption awaiting staff decision. HalqaID is set for purchases
// made by a group through a vote; those are charged to the halqa ledger and carry no StudentID.
type PurchaseRequest struct {
	BaseModel
	StudentID       *uint      `json:"student_id" gorm:"index"`
	HalqaID         *uint      `json:"halqa_id" gorm:"index"`
	CenterID        uint       `json:"center_id" gorm:"not null;index"`
	CatalogItemID   uint       `json:"catalog_item_id" gorm:"not null"`
	VoteID          *uint      `json:"vote_id"`
	PointsSpent     int        `json:"points_spent" gorm:"not null"`
	BadgesSpent     int        `json:"badges_spent" gorm:"not null"`
	Status          string     `json:"status" gorm:"size:16;not null;index"`
	PurchasedAt     time.Time  `json:"purchased_at" gorm:"not null"`
	DeliveredAt     *time.Time `json:"delivered_at"`
	RejectedAt      *time.Time `json:"rejected_at"`
	DecidedBy       *uint      `json:"decided_by"`
	RejectionReason string     `json:"rejection_reason" gorm:"size:500"`

	Student     *Student    `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	CatalogItem CatalogItem `json:"catalog_item,omitempty" gorm:"foreignKey:CatalogItemID"`
}

const (
	VoteOpen    = "voting"
	VotePassed  = "passed"
	VoteFailed  = "failed"
	VoteExpired = "expired"
)

// GroupPurchaseVote asks a halqa to approve a group purchase by majority.
type GroupPurchaseVote struct {
	BaseModel
	HalqaID            uint      `json:"halqa_id" gorm:"not null;index"`
	CenterID           uint      `json:"center_id" gorm:"not null;index"`
	CatalogItemID      uint      `json:"catalog_item_id" gorm:"not null"`
	InitiatorStudentID uint      `json:"initiator_student_id" gorm:"not null"`
	TotalStudents      int       `json:"total_students" gorm:"not null"`
	RequiredVotes      int       `json:"required_votes" gorm:"not null"`
	VotesFor           int       `json:"votes_for" gorm:"not null"`
	VotesAgainst       int       `json:"votes_against" gorm:"not null"`
	Status             string    `json:"status" gorm:"size:16;not null;index"`
	EndsAt             time.Time `json:"ends_at" gorm:"not null;index"`
	PurchaseRequestID  *uint     `json:"purchase_request_id"`

	CatalogItem CatalogItem   `json:"catalog_item,omitempty" gorm:"foreignKey:CatalogItemID"`
	Ballots     []StudentVote `json:"ballots,omitempty" gorm:"foreignKey:VoteID"`
}

// StudentVote is one ballot. A student votes at most once per GroupPurchaseVote.
type StudentVote struct {
	BaseModel
	VoteID    uint `json:"vote_id" gorm:"not null;uniqueIndex:idx_vote_student"`
	StudentID uint `json:"student_id" gorm:"not null;uniqueIndex:idx_vote_student"`
	InFavor   bool `json:"in_favor" gorm:"not null"`
}

// RequiredVotes is the majority threshold for a halqa of the given size: ceil(total/2).
func RequiredVotes(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + 1) / 2
}
