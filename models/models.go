package models

import (
	"time"

	"halaqat_go/access"
)

// Base model with common fields. Rows are hard-deleted; entities that need "soft" removal
// carry an IsActive flag instead.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Center is the tenant boundary.
type Center struct {
	BaseModel
	Name        string `json:"name" gorm:"size:255;not null"`
	Address     string `json:"address" gorm:"size:500"`
	Phone       string `json:"phone" gorm:"size:20"`
	LogoURL     string `json:"logo_url" gorm:"size:500"`
	LineGroupID string `json:"line_group_id,omitempty" gorm:"size:100"`
	IsActive    bool   `json:"is_active" gorm:"not null"`

	Halaqat []Halqa `json:"halaqat,omitempty" gorm:"foreignKey:CenterID"`
}

// Halqa is a teaching circle inside a center.
type Halqa struct {
	BaseModel
	CenterID    uint   `json:"center_id" gorm:"not null;index"`
	Name        string `json:"name" gorm:"size:255;not null"`
	TeacherID   *uint  `json:"teacher_id" gorm:"index"`
	Capacity    int    `json:"capacity" gorm:"not null"`
	Category    string `json:"category" gorm:"size:100"`
	LineGroupID string `json:"line_group_id,omitempty" gorm:"size:100"`
	IsActive    bool   `json:"is_active" gorm:"not null"`

	Center  Center   `json:"center,omitempty" gorm:"foreignKey:CenterID"`
	Teacher *Teacher `json:"teacher,omitempty" gorm:"foreignKey:TeacherID"`
}

func (Halqa) TableName() string { return "halaqat" }

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a login credential. Profile rows (Teacher, Student, Parent) point at it.
type User struct {
	BaseModel
	Username   string      `json:"username" gorm:"size:150;not null;uniqueIndex"`
	Password   string      `json:"-" gorm:"size:255;not null"`
	Email      string      `json:"email" gorm:"size:255"`
	Phone      string      `json:"phone" gorm:"size:20"`
	LineUserID string      `json:"line_user_id,omitempty" gorm:"size:100"`
	Role       access.Role `json:"role" gorm:"size:32;not null"`
	CenterID   *uint       `json:"center_id" gorm:"index"`
	Status     string      `json:"status" gorm:"size:20;not null"`
	Avatar     string      `json:"avatar" gorm:"size:500"`
}

// Teacher profile.
type Teacher struct {
	BaseModel
	UserID   uint   `json:"user_id" gorm:"uniqueIndex;not null"`
	CenterID uint   `json:"center_id" gorm:"not null;index"`
	FullName string `json:"full_name" gorm:"size:255;not null"`
	Phone    string `json:"phone" gorm:"size:20"`

	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// Student profile.
type Student struct {
	BaseModel
	CenterID  uint       `json:"center_id" gorm:"not null;index"`
	HalqaID   uint       `json:"halqa_id" gorm:"not null;index"`
	UserID    *uint      `json:"user_id" gorm:"uniqueIndex"`
	FullName  string     `json:"full_name" gorm:"size:255;not null"`
	Phone     string     `json:"phone" gorm:"size:20"`
	PhotoURL  string     `json:"photo_url" gorm:"size:500"`
	BirthDate *time.Time `json:"birth_date"`
	IsActive  bool       `json:"is_active" gorm:"not null"`

	Halqa   Halqa           `json:"halqa,omitempty" gorm:"foreignKey:HalqaID"`
	Parents []StudentParent `json:"parents,omitempty" gorm:"foreignKey:StudentID"`
}

// Parent profile.
type Parent struct {
	BaseModel
	CenterID   uint   `json:"center_id" gorm:"not null;index"`
	UserID     *uint  `json:"user_id" gorm:"uniqueIndex"`
	FullName   string `json:"full_name" gorm:"size:255;not null"`
	Phone      string `json:"phone" gorm:"size:20"`
	LineUserID string `json:"line_user_id,omitempty" gorm:"size:100"`

	Children []StudentParent `json:"children,omitempty" gorm:"foreignKey:ParentID"`
}

var Relationships = []string{"father", "mother", "guardian", "brother", "sister", "other"}

// StudentParent links a parent to a student.
type StudentParent struct {
	BaseModel
	StudentID    uint   `json:"student_id" gorm:"not null;uniqueIndex:idx_student_parent"`
	ParentID     uint   `json:"parent_id" gorm:"not null;uniqueIndex:idx_student_parent;index"`
	Relationship string `json:"relationship" gorm:"size:32;not null"`

	Student *Student `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	Parent  *Parent  `json:"parent,omitempty" gorm:"foreignKey:ParentID"`
}
