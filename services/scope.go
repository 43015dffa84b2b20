package services

import (
	"time"

	"halaqat_go/access"
	"halaqat_go/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Pagination is shared by list operations.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p Pagination) normalize() (offset, limit int) {
	limit = p.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit, limit
}

// scopeCenter restricts q to the actor's center unless the actor is global.
func scopeCenter(q *gorm.DB, actor access.Actor, column string) *gorm.DB {
	if actor.IsGlobal() {
		return q
	}
	return q.Where(column+" = ?", actor.CenterOrZero())
}

func requireCapability(actor access.Actor, c access.Capability) error {
	if !actor.Can(c) {
		return forbidden("missing capability " + string(c))
	}
	return nil
}

func loadStudent(db *gorm.DB, id uint) (*models.Student, error) {
	var st models.Student
	if err := db.First(&st, id).Error; err != nil {
		return nil, lookup(err, "student")
	}
	return &st, nil
}

func loadHalqa(db *gorm.DB, id uint) (*models.Halqa, error) {
	var h models.Halqa
	if err := db.First(&h, id).Error; err != nil {
		return nil, lookup(err, "halqa")
	}
	return &h, nil
}

// parentOf reports whether parentID is linked to studentID.
func parentOf(db *gorm.DB, parentID, studentID uint) (bool, error) {
	var n int64
	err := db.Model(&models.StudentParent{}).
		Where("parent_id = ? AND student_id = ?", parentID, studentID).
		Count(&n).Error
	return n > 0, err
}

// canSeeStudent allows staff of the student's center, the student and linked parents.
func canSeeStudent(db *gorm.DB, actor access.Actor, st *models.Student) error {
	switch {
	case actor.Role.IsStaff():
		if actor.InCenter(st.CenterID) {
			return nil
		}
	case actor.IsStudent(st.ID):
		return nil
	case actor.Role == access.RoleParent && actor.ParentID != nil:
		ok, err := parentOf(db, *actor.ParentID, st.ID)
		if err != nil {
			return errors.Wrap(err, "check parent link")
		}
		if ok {
			return nil
		}
	}
	return forbidden("student is outside your scope")
}

// staffInCenter allows staff roles acting inside centerID.
func staffInCenter(actor access.Actor, centerID uint) error {
	if !actor.Role.IsStaff() || !actor.InCenter(centerID) {
		return forbidden("resource belongs to another center")
	}
	return nil
}

// lockRow takes a write lock on one row for the rest of the transaction. A no-op update is
// portable across MySQL, PostgreSQL and SQLite where SELECT ... FOR UPDATE is not.
func lockRow(tx *gorm.DB, table string, id uint) error {
	res := tx.Table(table).Where("id = ?", id).Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return errors.Wrapf(res.Error, "lock %s %d", table, id)
	}
	if res.RowsAffected == 0 {
		return notFound(table)
	}
	return nil
}

func activeStudentCount(db *gorm.DB, halqaID uint) (int64, error) {
	var n int64
	err := db.Model(&models.Student{}).Where("halqa_id = ? AND is_active = ?", halqaID, true).Count(&n).Error
	return n, err
}

func uintPtr(v uint) *uint { return &v }

func boolPtr(v bool) *bool { return &v }

func nowUTC() time.Time { return time.Now().UTC() }
