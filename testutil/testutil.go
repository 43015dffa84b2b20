// Package testutil builds throwaway sqlite databases and fixtures for package tests.
package testutil

import (
	"fmt"
	"sync"
	"testing"

	"halaqat_go/access"
	"halaqat_go/database"
	"halaqat_go/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory database. A single connection keeps the memory
// database alive and serializes transactions.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// World is a small center: one admin, one officer, one teacher with one halqa.
type World struct {
	DB      *gorm.DB
	Center  models.Center
	Halqa   models.Halqa
	Teacher models.Teacher

	Super        access.Actor
	Admin        access.Actor
	Officer      access.Actor
	TeacherActor access.Actor

	seq int
}

func NewWorld(t *testing.T) *World {
	t.Helper()
	w := &World{DB: NewDB(t)}
	w.Center = models.Center{Name: "مركز النور", IsActive: true}
	require.NoError(t, w.DB.Create(&w.Center).Error)

	w.Super = access.Actor{UserID: w.User(t, access.RoleSuperAdmin, nil).ID, Role: access.RoleSuperAdmin}
	w.Admin = w.StaffActor(t, access.RoleCenterAdmin, w.Center.ID)
	w.Officer = w.StaffActor(t, access.RoleCommunicationOfficer, w.Center.ID)
	w.Teacher, w.TeacherActor = w.NewTeacher(t, w.Center.ID)
	w.Halqa = w.NewHalqa(t, w.Center.ID, &w.Teacher.ID, "حلقة الفجر")
	return w
}

func (w *World) next() int {
	w.seq++
	return w.seq
}

// Password is the plain password of every fixture user.
const Password = "secret123"

var (
	hashOnce sync.Once
	hashed   string
)

func passwordHash() string {
	hashOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		hashed = string(b)
	})
	return hashed
}

// User inserts an active login with the fixture password.
func (w *World) User(t *testing.T, role access.Role, centerID *uint) models.User {
	t.Helper()
	u := models.User{
		Username: fmt.Sprintf("%s_%d", role, w.next()),
		Password: passwordHash(),
		Role:     role,
		CenterID: centerID,
		Status:   models.UserStatusActive,
	}
	require.NoError(t, w.DB.Create(&u).Error)
	return u
}

func (w *World) StaffActor(t *testing.T, role access.Role, centerID uint) access.Actor {
	t.Helper()
	u := w.User(t, role, &centerID)
	return access.Actor{UserID: u.ID, Role: role, CenterID: &centerID}
}

func (w *World) NewTeacher(t *testing.T, centerID uint) (models.Teacher, access.Actor) {
	t.Helper()
	u := w.User(t, access.RoleTeacher, &centerID)
	tc := models.Teacher{UserID: u.ID, CenterID: centerID, FullName: fmt.Sprintf("المعلم %d", w.next())}
	require.NoError(t, w.DB.Create(&tc).Error)
	return tc, access.Actor{UserID: u.ID, Role: access.RoleTeacher, CenterID: &centerID, TeacherID: &tc.ID}
}

func (w *World) NewCenter(t *testing.T, name string) models.Center {
	t.Helper()
	c := models.Center{Name: name, IsActive: true}
	require.NoError(t, w.DB.Create(&c).Error)
	return c
}

func (w *World) NewHalqa(t *testing.T, centerID uint, teacherID *uint, name string) models.Halqa {
	t.Helper()
	h := models.Halqa{CenterID: centerID, Name: name, TeacherID: teacherID, Capacity: 30, IsActive: true}
	require.NoError(t, w.DB.Create(&h).Error)
	return h
}

// NewStudent adds an active student with a login to halqa.
func (w *World) NewStudent(t *testing.T, halqa models.Halqa) (models.Student, access.Actor) {
	t.Helper()
	u := w.User(t, access.RoleStudent, &halqa.CenterID)
	st := models.Student{
		CenterID: halqa.CenterID,
		HalqaID:  halqa.ID,
		UserID:   &u.ID,
		FullName: fmt.Sprintf("الطالب %d", w.next()),
		IsActive: true,
	}
	require.NoError(t, w.DB.Create(&st).Error)
	centerID := halqa.CenterID
	return st, access.Actor{UserID: u.ID, Role: access.RoleStudent, CenterID: &centerID, StudentID: &st.ID}
}

// NewParent adds a parent with a login linked to the given students.
func (w *World) NewParent(t *testing.T, centerID uint, students ...models.Student) (models.Parent, access.Actor) {
	t.Helper()
	u := w.User(t, access.RoleParent, &centerID)
	p := models.Parent{CenterID: centerID, UserID: &u.ID, FullName: fmt.Sprintf("ولي الأمر %d", w.next()), Phone: "0500000000"}
	require.NoError(t, w.DB.Create(&p).Error)
	for _, st := range students {
		require.NoError(t, w.DB.Create(&models.StudentParent{StudentID: st.ID, ParentID: p.ID, Relationship: "father"}).Error)
	}
	return p, access.Actor{UserID: u.ID, Role: access.RoleParent, CenterID: &centerID, ParentID: &p.ID}
}

// Earn credits a student directly in the ledger.
func (w *World) Earn(t *testing.T, subjectType string, subjectID uint, currency string, amount int) {
	t.Helper()
	require.NoError(t, w.DB.Create(&models.LedgerEntry{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Currency:    currency,
		Kind:        models.EntryEarn,
		Delta:       amount,
		Reason:      "test",
		SourceType:  "test",
	}).Error)
}
