package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/utils"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrBadCredentials is returned by Login for unknown users, wrong passwords and disabled accounts.
var ErrBadCredentials = errors.New("invalid username or password")

const blacklistPrefix = "blacklist:jwt:"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProvisionInput creates a student and a parent with linked accounts in one go.
type ProvisionInput struct {
	Student      StudentInput `json:"student" validate:"required"`
	Parent       ParentInput  `json:"parent" validate:"required"`
	Relationship string       `json:"relationship" validate:"required"`
}

// Provisioned is shown to the admin once; plain passwords are not stored anywhere.
type Provisioned struct {
	Student     *models.Student `json:"student"`
	Parent      *models.Parent  `json:"parent"`
	Credentials struct {
		Student Credentials `json:"student"`
		Parent  Credentials `json:"parent"`
	} `json:"credentials"`
}

type StaffInput struct {
	Username string      `json:"username" validate:"required,min=3,max=150"`
	Password string      `json:"password" validate:"required,min=6"`
	FullName string      `json:"full_name" validate:"required,max=255"`
	Email    string      `json:"email" validate:"omitempty,email"`
	Phone    string      `json:"phone" validate:"max=20"`
	Role     access.Role `json:"role" validate:"required"`
	CenterID *uint       `json:"center_id"`
}

// Profile is the signed-in user with whichever profile rows they own.
type Profile struct {
	User    models.User     `json:"user"`
	Teacher *models.Teacher `json:"teacher,omitempty"`
	Student *models.Student `json:"student,omitempty"`
	Parent  *models.Parent  `json:"parent,omitempty"`
}

// AccountService owns logins, provisioning and account state.
type AccountService struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewAccountService(db *gorm.DB, rdb *redis.Client) *AccountService {
	return &AccountService{db: db, rdb: rdb}
}

// ActorFor resolves the profile ids a user acts through.
func ActorFor(db *gorm.DB, u *models.User) (access.Actor, error) {
	a := access.Actor{UserID: u.ID, Role: u.Role, CenterID: u.CenterID}
	var ids []uint
	switch u.Role {
	case access.RoleTeacher:
		if err := db.Model(&models.Teacher{}).Where("user_id = ?", u.ID).Limit(1).Pluck("id", &ids).Error; err != nil {
			return a, errors.Wrap(err, "resolve teacher")
		}
		if len(ids) > 0 {
			a.TeacherID = uintPtr(ids[0])
		}
	case access.RoleStudent:
		if err := db.Model(&models.Student{}).Where("user_id = ? AND is_active = ?", u.ID, true).Limit(1).Pluck("id", &ids).Error; err != nil {
			return a, errors.Wrap(err, "resolve student")
		}
		if len(ids) > 0 {
			a.StudentID = uintPtr(ids[0])
		}
	case access.RoleParent:
		if err := db.Model(&models.Parent{}).Where("user_id = ?", u.ID).Limit(1).Pluck("id", &ids).Error; err != nil {
			return a, errors.Wrap(err, "resolve parent")
		}
		if len(ids) > 0 {
			a.ParentID = uintPtr(ids[0])
		}
	}
	return a, nil
}

// Login checks the password of an active account.
func (s *AccountService) Login(username, password string) (*models.User, access.Actor, error) {
	var u models.User
	err := s.db.Where("username = ? AND status = ?", strings.TrimSpace(username), models.UserStatusActive).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, access.Actor{}, ErrBadCredentials
	}
	if err != nil {
		return nil, access.Actor{}, errors.Wrap(err, "load user")
	}
	if utils.CheckPassword(password, u.Password) != nil {
		return nil, access.Actor{}, ErrBadCredentials
	}
	actor, err := ActorFor(s.db, &u)
	if err != nil {
		return nil, access.Actor{}, err
	}
	return &u, actor, nil
}

// Logout blacklists a token until it would have expired anyway.
func (s *AccountService) Logout(ctx context.Context, token string, ttl time.Duration) error {
	if s.rdb == nil || token == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return errors.Wrap(s.rdb.Set(ctx, blacklistPrefix+token, "1", ttl).Err(), "blacklist token")
}

// Revoked reports whether a token was logged out. Without Redis nothing is revoked.
func (s *AccountService) Revoked(ctx context.Context, token string) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, blacklistPrefix+token).Result()
	if err != nil {
		logrus.WithError(err).Warn("token blacklist lookup failed")
		return false
	}
	return n > 0
}

// Active loads a user that may still use the API.
func (s *AccountService) Active(userID uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, userID).Error; err != nil {
		return nil, lookup(err, "user")
	}
	if u.Status != models.UserStatusActive {
		return nil, forbidden("account is disabled")
	}
	return &u, nil
}

func (s *AccountService) Profile(actor access.Actor) (*Profile, error) {
	p := &Profile{}
	if err := s.db.First(&p.User, actor.UserID).Error; err != nil {
		return nil, lookup(err, "user")
	}
	if actor.TeacherID != nil {
		p.Teacher = &models.Teacher{}
		if err := s.db.First(p.Teacher, *actor.TeacherID).Error; err != nil {
			return nil, lookup(err, "teacher")
		}
	}
	if actor.StudentID != nil {
		p.Student = &models.Student{}
		if err := s.db.Preload("Halqa").First(p.Student, *actor.StudentID).Error; err != nil {
			return nil, lookup(err, "student")
		}
	}
	if actor.ParentID != nil {
		p.Parent = &models.Parent{}
		if err := s.db.Preload("Children.Student").First(p.Parent, *actor.ParentID).Error; err != nil {
			return nil, lookup(err, "parent")
		}
	}
	return p, nil
}

// uniqueUsername returns base, or base followed by the first free number starting at 2.
func uniqueUsername(tx *gorm.DB, base string) (string, error) {
	base = utils.CleanName(base)
	for n := 1; n < 1000; n++ {
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s%d", base, n)
		}
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", name).Count(&count).Error; err != nil {
			return "", errors.Wrap(err, "check username")
		}
		if count == 0 {
			return name, nil
		}
	}
	return "", conflict("no free username for " + base)
}

func createUser(tx *gorm.DB, username, password string, role access.Role, centerID uint, phone string) (*models.User, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	u := &models.User{
		Username: username,
		Password: hash,
		Phone:    phone,
		Role:     role,
		CenterID: uintPtr(centerID),
		Status:   models.UserStatusActive,
	}
	return u, errors.Wrap(tx.Create(u).Error, "create user")
}

// ProvisionStudentWithParent creates the student, the parent, both logins and the link
// atomically. Usernames are the full names and passwords the phone numbers; a student
// without a phone gets the parent's.
func (s *AccountService) ProvisionStudentWithParent(actor access.Actor, in ProvisionInput) (*Provisioned, error) {
	if err := requireCapability(actor, access.ManageAccounts); err != nil {
		return nil, err
	}
	var flds []FieldError
	if strings.TrimSpace(in.Student.FullName) == "" {
		flds = append(flds, FieldError{Field: "student.full_name", Error: "full name is required"})
	}
	if strings.TrimSpace(in.Parent.FullName) == "" {
		flds = append(flds, FieldError{Field: "parent.full_name", Error: "full name is required"})
	}
	if strings.TrimSpace(in.Parent.Phone) == "" {
		flds = append(flds, FieldError{Field: "parent.phone", Error: "phone is required"})
	}
	if !validRelationship(in.Relationship) {
		flds = append(flds, FieldError{Field: "relationship", Error: "unknown relationship"})
	}
	if len(flds) > 0 {
		return nil, NewValidationError("invalid provisioning request", flds...)
	}
	halqa, err := loadHalqa(s.db, in.Student.HalqaID)
	if err != nil {
		return nil, err
	}
	if err := staffInCenter(actor, halqa.CenterID); err != nil {
		return nil, err
	}
	if !halqa.IsActive {
		return nil, invalid("student.halqa_id", "halqa is inactive")
	}

	studentPass := strings.TrimSpace(in.Student.Phone)
	if studentPass == "" {
		studentPass = strings.TrimSpace(in.Parent.Phone)
	}
	parentPass := strings.TrimSpace(in.Parent.Phone)

	out := &Provisioned{}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		name, err := uniqueUsername(tx, in.Student.FullName)
		if err != nil {
			return err
		}
		su, err := createUser(tx, name, studentPass, access.RoleStudent, halqa.CenterID, in.Student.Phone)
		if err != nil {
			return err
		}
		out.Student = &models.Student{
			CenterID:  halqa.CenterID,
			HalqaID:   halqa.ID,
			UserID:    uintPtr(su.ID),
			FullName:  strings.TrimSpace(in.Student.FullName),
			Phone:     in.Student.Phone,
			BirthDate: in.Student.BirthDate,
			IsActive:  true,
		}
		if err := tx.Create(out.Student).Error; err != nil {
			return errors.Wrap(err, "create student")
		}

		if name, err = uniqueUsername(tx, in.Parent.FullName); err != nil {
			return err
		}
		pu, err := createUser(tx, name, parentPass, access.RoleParent, halqa.CenterID, in.Parent.Phone)
		if err != nil {
			return err
		}
		pu.LineUserID = in.Parent.LineUserID
		if pu.LineUserID != "" {
			if err := tx.Model(pu).Update("line_user_id", pu.LineUserID).Error; err != nil {
				return errors.Wrap(err, "store line id")
			}
		}
		out.Parent = &models.Parent{
			CenterID:   halqa.CenterID,
			UserID:     uintPtr(pu.ID),
			FullName:   strings.TrimSpace(in.Parent.FullName),
			Phone:      parentPass,
			LineUserID: in.Parent.LineUserID,
		}
		if err := tx.Create(out.Parent).Error; err != nil {
			return errors.Wrap(err, "create parent")
		}
		if _, err := linkParent(tx, out.Student.ID, out.Parent.ID, in.Relationship); err != nil {
			return err
		}
		out.Credentials.Student = Credentials{Username: su.Username, Password: studentPass}
		out.Credentials.Parent = Credentials{Username: pu.Username, Password: parentPass}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"student_id": out.Student.ID,
		"parent_id":  out.Parent.ID,
		"by":         actor.UserID,
	}).Info("student and parent provisioned")
	return out, nil
}

// CreateStaffAccount creates a staff login. Teachers also get a teacher profile.
// Only super admins create center admins or other super admins.
func (s *AccountService) CreateStaffAccount(actor access.Actor, in StaffInput) (*models.User, error) {
	if err := requireCapability(actor, access.ManageAccounts); err != nil {
		return nil, err
	}
	if !in.Role.IsStaff() {
		return nil, invalid("role", "use provisioning for students and parents")
	}
	if (in.Role == access.RoleSuperAdmin || in.Role == access.RoleCenterAdmin) && !actor.IsGlobal() {
		return nil, forbidden("only super admins create administrators")
	}
	if len(in.Password) < 6 {
		return nil, invalid("password", "password must have at least 6 characters")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, invalid("username", "username is required")
	}

	var centerID *uint
	if in.Role != access.RoleSuperAdmin {
		centerID = actor.CenterID
		if actor.IsGlobal() {
			centerID = in.CenterID
		}
		if centerID == nil {
			return nil, invalid("center_id", "center is required")
		}
		var c models.Center
		if err := s.db.First(&c, *centerID).Error; err != nil {
			return nil, lookup(err, "center")
		}
	}

	var u *models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
			return errors.Wrap(err, "check username")
		}
		if n > 0 {
			return conflict("username already exists")
		}
		hash, err := utils.HashPassword(in.Password)
		if err != nil {
			return errors.Wrap(err, "hash password")
		}
		u = &models.User{
			Username: username,
			Password: hash,
			Email:    in.Email,
			Phone:    in.Phone,
			Role:     in.Role,
			CenterID: centerID,
			Status:   models.UserStatusActive,
		}
		if err := tx.Create(u).Error; err != nil {
			return errors.Wrap(err, "create user")
		}
		if in.Role == access.RoleTeacher {
			t := &models.Teacher{UserID: u.ID, CenterID: *centerID, FullName: in.FullName, Phone: in.Phone}
			return errors.Wrap(tx.Create(t).Error, "create teacher")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("staff account created")
	return u, nil
}

func (s *AccountService) manageable(actor access.Actor, userID uint) (*models.User, error) {
	if err := requireCapability(actor, access.ManageAccounts); err != nil {
		return nil, err
	}
	var u models.User
	if err := s.db.First(&u, userID).Error; err != nil {
		return nil, lookup(err, "user")
	}
	if actor.IsGlobal() {
		return &u, nil
	}
	if u.CenterID == nil || !actor.InCenter(*u.CenterID) {
		return nil, notFound("user")
	}
	if u.Role == access.RoleSuperAdmin || u.Role == access.RoleCenterAdmin {
		return nil, forbidden("administrators are managed by super admins")
	}
	return &u, nil
}

// SetAccountStatus enables or disables a login. Actors cannot disable themselves.
func (s *AccountService) SetAccountStatus(actor access.Actor, userID uint, enabled bool) (*models.User, error) {
	u, err := s.manageable(actor, userID)
	if err != nil {
		return nil, err
	}
	if u.ID == actor.UserID && !enabled {
		return nil, invalid("user_id", "cannot disable your own account")
	}
	status := models.UserStatusDisabled
	if enabled {
		status = models.UserStatusActive
	}
	if err := s.db.Model(u).Update("status", status).Error; err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	logrus.WithFields(logrus.Fields{"user_id": u.ID, "status": status, "by": actor.UserID}).Info("account status changed")
	return u, nil
}

func (s *AccountService) ChangePassword(actor access.Actor, current, next string) error {
	if len(next) < 6 {
		return invalid("new_password", "password must have at least 6 characters")
	}
	var u models.User
	if err := s.db.First(&u, actor.UserID).Error; err != nil {
		return lookup(err, "user")
	}
	if utils.CheckPassword(current, u.Password) != nil {
		return invalid("current_password", "current password is incorrect")
	}
	hash, err := utils.HashPassword(next)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return errors.Wrap(s.db.Model(&u).Update("password", hash).Error, "update password")
}

// ResetPassword sets another user's password without knowing the old one.
func (s *AccountService) ResetPassword(actor access.Actor, userID uint, next string) error {
	u, err := s.manageable(actor, userID)
	if err != nil {
		return err
	}
	if len(next) < 6 {
		return invalid("new_password", "password must have at least 6 characters")
	}
	hash, err := utils.HashPassword(next)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return errors.Wrap(s.db.Model(u).Update("password", hash).Error, "reset password")
}

type UserFilter struct {
	Role   access.Role
	Status string
	Search string
	Pagination
}

func (s *AccountService) ListUsers(actor access.Actor, f UserFilter) ([]models.User, int64, error) {
	if err := requireCapability(actor, access.ManageAccounts); err != nil {
		return nil, 0, err
	}
	q := scopeCenter(s.db.Model(&models.User{}), actor, "center_id")
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		q = q.Where("username LIKE ?", "%"+f.Search+"%")
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count users")
	}
	offset, limit := f.normalize()
	var out []models.User
	err := q.Order("username").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, errors.Wrap(err, "list users")
}
