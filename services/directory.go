package services

import (
	"strings"
	"time"

	"halaqat_go/access"
	"halaqat_go/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CenterInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Address  string `json:"address" validate:"max=500"`
	Phone    string `json:"phone" validate:"max=20"`
	IsActive *bool  `json:"is_active"`
}

type HalqaInput struct {
	Name      string `json:"name" validate:"required,max=255"`
	TeacherID *uint  `json:"teacher_id"`
	Capacity  int    `json:"capacity" validate:"gte=0"`
	Category  string `json:"category" validate:"max=100"`
	IsActive  *bool  `json:"is_active"`
	// Only super admins choose the center; everybody else creates in their own.
	CenterID uint `json:"center_id"`
}

type StudentInput struct {
	FullName  string     `json:"full_name" validate:"required,max=255"`
	Phone     string     `json:"phone" validate:"max=20"`
	HalqaID   uint       `json:"halqa_id" validate:"required"`
	BirthDate *time.Time `json:"birth_date"`
	IsActive  *bool      `json:"is_active"`
}

type ParentInput struct {
	FullName   string `json:"full_name" validate:"required,max=255"`
	Phone      string `json:"phone" validate:"max=20"`
	LineUserID string `json:"line_user_id" validate:"max=100"`
	CenterID   uint   `json:"center_id"`
}

type TeacherInput struct {
	FullName string `json:"full_name" validate:"required,max=255"`
	Phone    string `json:"phone" validate:"max=20"`
}

type StudentFilter struct {
	HalqaID    uint
	ActiveOnly bool
	Search     string
	Pagination
}

// DirectoryService manages centers, halaqat and the people in them.
type DirectoryService struct {
	db *gorm.DB
}

func NewDirectoryService(db *gorm.DB) *DirectoryService {
	return &DirectoryService{db: db}
}

// ---- centers ----

func (s *DirectoryService) CreateCenter(actor access.Actor, in CenterInput) (*models.Center, error) {
	if err := requireCapability(actor, access.ManageCenters); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name", "name is required")
	}
	c := &models.Center{Name: in.Name, Address: in.Address, Phone: in.Phone, IsActive: in.IsActive == nil || *in.IsActive}
	if err := s.db.Create(c).Error; err != nil {
		return nil, errors.Wrap(err, "create center")
	}
	logrus.WithField("center_id", c.ID).Info("center created")
	return c, nil
}

// canEditCenter allows super admins and the center's own admins.
func canEditCenter(actor access.Actor, centerID uint) error {
	if actor.Can(access.ManageCenters) {
		return nil
	}
	if actor.Can(access.ManageDirectory) && actor.InCenter(centerID) {
		return nil
	}
	return forbidden("cannot edit this center")
}

func (s *DirectoryService) GetCenter(actor access.Actor, id uint) (*models.Center, error) {
	if !actor.InCenter(id) {
		return nil, notFound("center")
	}
	var c models.Center
	if err := s.db.First(&c, id).Error; err != nil {
		return nil, lookup(err, "center")
	}
	return &c, nil
}

func (s *DirectoryService) UpdateCenter(actor access.Actor, id uint, in CenterInput) (*models.Center, error) {
	if err := canEditCenter(actor, id); err != nil {
		return nil, err
	}
	c, err := s.GetCenter(actor, id)
	if err != nil {
		return nil, err
	}
	c.Name, c.Address, c.Phone = in.Name, in.Address, in.Phone
	if in.IsActive != nil && actor.Can(access.ManageCenters) {
		c.IsActive = *in.IsActive
	}
	return c, errors.Wrap(s.db.Save(c).Error, "update center")
}

// DeactivateCenter hides a center; its data stays.
func (s *DirectoryService) DeactivateCenter(actor access.Actor, id uint) error {
	if err := requireCapability(actor, access.ManageCenters); err != nil {
		return err
	}
	res := s.db.Model(&models.Center{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return errors.Wrap(res.Error, "deactivate center")
	}
	if res.RowsAffected == 0 {
		return notFound("center")
	}
	return nil
}

// SetCenterLogo stores the logo URL and returns the previous one.
func (s *DirectoryService) SetCenterLogo(actor access.Actor, id uint, url string) (string, error) {
	if err := canEditCenter(actor, id); err != nil {
		return "", err
	}
	c, err := s.GetCenter(actor, id)
	if err != nil {
		return "", err
	}
	old := c.LogoURL
	return old, errors.Wrap(s.db.Model(c).Update("logo_url", url).Error, "update logo")
}

func (s *DirectoryService) ListCenters(actor access.Actor) ([]models.Center, error) {
	var out []models.Center
	q := s.db.Order("name")
	if !actor.IsGlobal() {
		q = q.Where("id = ?", actor.CenterOrZero())
	}
	return out, errors.Wrap(q.Find(&out).Error, "list centers")
}

// ---- halaqat ----

func (s *DirectoryService) checkTeacher(teacherID *uint, centerID uint) error {
	if teacherID == nil {
		return nil
	}
	var t models.Teacher
	if err := s.db.First(&t, *teacherID).Error; err != nil {
		return invalid("teacher_id", "unknown teacher")
	}
	if t.CenterID != centerID {
		return invalid("teacher_id", "teacher belongs to another center")
	}
	return nil
}

func (s *DirectoryService) CreateHalqa(actor access.Actor, in HalqaInput) (*models.Halqa, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	centerID := actor.CenterOrZero()
	if actor.IsGlobal() {
		centerID = in.CenterID
	}
	if centerID == 0 {
		return nil, invalid("center_id", "center is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name", "name is required")
	}
	if err := s.checkTeacher(in.TeacherID, centerID); err != nil {
		return nil, err
	}
	h := &models.Halqa{
		CenterID:  centerID,
		Name:      in.Name,
		TeacherID: in.TeacherID,
		Capacity:  in.Capacity,
		Category:  in.Category,
		IsActive:  in.IsActive == nil || *in.IsActive,
	}
	if err := s.db.Create(h).Error; err != nil {
		return nil, errors.Wrap(err, "create halqa")
	}
	return h, nil
}

func (s *DirectoryService) GetHalqa(actor access.Actor, id uint) (*models.Halqa, error) {
	var h models.Halqa
	if err := s.db.Preload("Teacher").First(&h, id).Error; err != nil {
		return nil, lookup(err, "halqa")
	}
	if !actor.InCenter(h.CenterID) {
		return nil, notFound("halqa")
	}
	return &h, nil
}

func (s *DirectoryService) UpdateHalqa(actor access.Actor, id uint, in HalqaInput) (*models.Halqa, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	h, err := s.GetHalqa(actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkTeacher(in.TeacherID, h.CenterID); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"name":       in.Name,
		"teacher_id": in.TeacherID,
		"capacity":   in.Capacity,
		"category":   in.Category,
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if err := s.db.Model(&models.Halqa{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, errors.Wrap(err, "update halqa")
	}
	return s.GetHalqa(actor, id)
}

func (s *DirectoryService) DeactivateHalqa(actor access.Actor, id uint) error {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return err
	}
	if _, err := s.GetHalqa(actor, id); err != nil {
		return err
	}
	return errors.Wrap(s.db.Model(&models.Halqa{}).Where("id = ?", id).Update("is_active", false).Error, "deactivate halqa")
}

// ListHalaqat returns the center's halaqat; teachers without review rights see their own.
func (s *DirectoryService) ListHalaqat(actor access.Actor, activeOnly bool) ([]models.Halqa, error) {
	if err := requireCapability(actor, access.ViewDirectory); err != nil {
		return nil, err
	}
	q := scopeCenter(s.db.Preload("Teacher"), actor, "center_id")
	if actor.Role == access.RoleTeacher && actor.TeacherID != nil {
		q = q.Where("teacher_id = ?", *actor.TeacherID)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []models.Halqa
	return out, errors.Wrap(q.Order("name").Find(&out).Error, "list halaqat")
}

// ---- teachers ----

func (s *DirectoryService) ListTeachers(actor access.Actor) ([]models.Teacher, error) {
	if err := requireCapability(actor, access.ViewDirectory); err != nil {
		return nil, err
	}
	var out []models.Teacher
	err := scopeCenter(s.db.Preload("User"), actor, "center_id").Order("full_name").Find(&out).Error
	return out, errors.Wrap(err, "list teachers")
}

func (s *DirectoryService) UpdateTeacher(actor access.Actor, id uint, in TeacherInput) (*models.Teacher, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	var t models.Teacher
	if err := s.db.First(&t, id).Error; err != nil {
		return nil, lookup(err, "teacher")
	}
	if err := staffInCenter(actor, t.CenterID); err != nil {
		return nil, err
	}
	t.FullName, t.Phone = in.FullName, in.Phone
	return &t, errors.Wrap(s.db.Save(&t).Error, "update teacher")
}

// ---- students ----

func (s *DirectoryService) halqaForWrite(actor access.Actor, halqaID uint) (*models.Halqa, error) {
	h, err := loadHalqa(s.db, halqaID)
	if err != nil {
		return nil, invalid("halqa_id", "unknown halqa")
	}
	if err := staffInCenter(actor, h.CenterID); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *DirectoryService) CreateStudent(actor access.Actor, in StudentInput) (*models.Student, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, invalid("full_name", "full name is required")
	}
	h, err := s.halqaForWrite(actor, in.HalqaID)
	if err != nil {
		return nil, err
	}
	st := &models.Student{
		CenterID:  h.CenterID,
		HalqaID:   h.ID,
		FullName:  in.FullName,
		Phone:     in.Phone,
		BirthDate: in.BirthDate,
		IsActive:  in.IsActive == nil || *in.IsActive,
	}
	return st, errors.Wrap(s.db.Create(st).Error, "create student")
}

func (s *DirectoryService) GetStudent(actor access.Actor, id uint) (*models.Student, error) {
	var st models.Student
	if err := s.db.Preload("Halqa").Preload("Parents.Parent").First(&st, id).Error; err != nil {
		return nil, lookup(err, "student")
	}
	if err := canSeeStudent(s.db, actor, &st); err != nil {
		return nil, notFound("student")
	}
	return &st, nil
}

// UpdateStudent edits the profile and may move the student to another halqa of the same center.
func (s *DirectoryService) UpdateStudent(actor access.Actor, id uint, in StudentInput) (*models.Student, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	st, err := loadStudent(s.db, id)
	if err != nil {
		return nil, err
	}
	if err := staffInCenter(actor, st.CenterID); err != nil {
		return nil, err
	}
	h, err := s.halqaForWrite(actor, in.HalqaID)
	if err != nil {
		return nil, err
	}
	if h.CenterID != st.CenterID {
		return nil, invalid("halqa_id", "halqa belongs to another center")
	}
	updates := map[string]interface{}{
		"full_name":  in.FullName,
		"phone":      in.Phone,
		"halqa_id":   h.ID,
		"birth_date": in.BirthDate,
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if err := s.db.Model(&models.Student{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, errors.Wrap(err, "update student")
	}
	return s.GetStudent(actor, id)
}

// DeactivateStudent keeps the row and its ledger; the student drops out of rosters and votes.
func (s *DirectoryService) DeactivateStudent(actor access.Actor, id uint) error {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return err
	}
	st, err := loadStudent(s.db, id)
	if err != nil {
		return err
	}
	if err := staffInCenter(actor, st.CenterID); err != nil {
		return err
	}
	return errors.Wrap(s.db.Model(st).Update("is_active", false).Error, "deactivate student")
}

func (s *DirectoryService) SetStudentPhoto(actor access.Actor, id uint, url string) (string, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return "", err
	}
	st, err := loadStudent(s.db, id)
	if err != nil {
		return "", err
	}
	if err := staffInCenter(actor, st.CenterID); err != nil {
		return "", err
	}
	old := st.PhotoURL
	return old, errors.Wrap(s.db.Model(st).Update("photo_url", url).Error, "update photo")
}

func (s *DirectoryService) ListStudents(actor access.Actor, f StudentFilter) ([]models.Student, int64, error) {
	if err := requireCapability(actor, access.ViewDirectory); err != nil {
		return nil, 0, err
	}
	q := scopeCenter(s.db.Model(&models.Student{}), actor, "center_id")
	if f.HalqaID != 0 {
		q = q.Where("halqa_id = ?", f.HalqaID)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if f.Search != "" {
		q = q.Where("full_name LIKE ?", "%"+f.Search+"%")
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count students")
	}
	offset, limit := f.normalize()
	var out []models.Student
	err := q.Order("full_name").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, errors.Wrap(err, "list students")
}

// ---- parents ----

func (s *DirectoryService) CreateParent(actor access.Actor, in ParentInput) (*models.Parent, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	centerID := actor.CenterOrZero()
	if actor.IsGlobal() {
		centerID = in.CenterID
	}
	if centerID == 0 {
		return nil, invalid("center_id", "center is required")
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, invalid("full_name", "full name is required")
	}
	p := &models.Parent{CenterID: centerID, FullName: in.FullName, Phone: in.Phone, LineUserID: in.LineUserID}
	return p, errors.Wrap(s.db.Create(p).Error, "create parent")
}

func (s *DirectoryService) loadParent(actor access.Actor, id uint) (*models.Parent, error) {
	var p models.Parent
	if err := s.db.First(&p, id).Error; err != nil {
		return nil, lookup(err, "parent")
	}
	if !actor.IsParent(p.ID) && staffInCenter(actor, p.CenterID) != nil {
		return nil, notFound("parent")
	}
	return &p, nil
}

func (s *DirectoryService) UpdateParent(actor access.Actor, id uint, in ParentInput) (*models.Parent, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	p, err := s.loadParent(actor, id)
	if err != nil {
		return nil, err
	}
	p.FullName, p.Phone, p.LineUserID = in.FullName, in.Phone, in.LineUserID
	return p, errors.Wrap(s.db.Save(p).Error, "update parent")
}

// DeleteParent removes the parent and all of their links.
func (s *DirectoryService) DeleteParent(actor access.Actor, id uint) error {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return err
	}
	p, err := s.loadParent(actor, id)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", p.ID).Delete(&models.StudentParent{}).Error; err != nil {
			return errors.Wrap(err, "delete parent links")
		}
		return errors.Wrap(tx.Delete(p).Error, "delete parent")
	})
}

func (s *DirectoryService) ListParents(actor access.Actor, page Pagination) ([]models.Parent, error) {
	if err := requireCapability(actor, access.ViewDirectory); err != nil {
		return nil, err
	}
	offset, limit := page.normalize()
	var out []models.Parent
	err := scopeCenter(s.db.Preload("Children.Student"), actor, "center_id").
		Order("full_name").Offset(offset).Limit(limit).Find(&out).Error
	return out, errors.Wrap(err, "list parents")
}

// Children returns the students linked to a parent.
func (s *DirectoryService) Children(actor access.Actor, parentID uint) ([]models.Student, error) {
	if _, err := s.loadParent(actor, parentID); err != nil {
		return nil, err
	}
	var out []models.Student
	err := s.db.Preload("Halqa").
		Where("id IN (?)", s.db.Model(&models.StudentParent{}).Select("student_id").Where("parent_id = ?", parentID)).
		Order("full_name").Find(&out).Error
	return out, errors.Wrap(err, "list children")
}

func validRelationship(r string) bool {
	return oneOf(r, models.Relationships)
}

// Link attaches a parent to a student of the same center.
func (s *DirectoryService) Link(actor access.Actor, studentID, parentID uint, relationship string) (*models.StudentParent, error) {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return nil, err
	}
	if !validRelationship(relationship) {
		return nil, invalid("relationship", "unknown relationship")
	}
	st, err := loadStudent(s.db, studentID)
	if err != nil {
		return nil, err
	}
	if err := staffInCenter(actor, st.CenterID); err != nil {
		return nil, err
	}
	p, err := s.loadParent(actor, parentID)
	if err != nil {
		return nil, err
	}
	if p.CenterID != st.CenterID {
		return nil, invalid("parent_id", "parent belongs to another center")
	}
	return linkParent(s.db, studentID, parentID, relationship)
}

func linkParent(tx *gorm.DB, studentID, parentID uint, relationship string) (*models.StudentParent, error) {
	var n int64
	if err := tx.Model(&models.StudentParent{}).Where("student_id = ? AND parent_id = ?", studentID, parentID).Count(&n).Error; err != nil {
		return nil, errors.Wrap(err, "check link")
	}
	if n > 0 {
		return nil, conflict("parent is already linked to this student")
	}
	link := &models.StudentParent{StudentID: studentID, ParentID: parentID, Relationship: relationship}
	return link, errors.Wrap(tx.Create(link).Error, "create link")
}

// Unlink hard-deletes one student-parent link.
func (s *DirectoryService) Unlink(actor access.Actor, studentID, parentID uint) error {
	if err := requireCapability(actor, access.ManageDirectory); err != nil {
		return err
	}
	st, err := loadStudent(s.db, studentID)
	if err != nil {
		return err
	}
	if err := staffInCenter(actor, st.CenterID); err != nil {
		return err
	}
	res := s.db.Where("student_id = ? AND parent_id = ?", studentID, parentID).Delete(&models.StudentParent{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete link")
	}
	if res.RowsAffected == 0 {
		return notFound("link")
	}
	return nil
}
