package services

import (
	"context"
	"testing"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionCreatesLinkedLogins(t *testing.T) {
	w := testutil.NewWorld(t)
	accounts := NewAccountService(w.DB, nil)

	out, err := accounts.ProvisionStudentWithParent(w.Admin, ProvisionInput{
		Student:      StudentInput{FullName: "  يوسف   أحمد ", HalqaID: w.Halqa.ID},
		Parent:       ParentInput{FullName: "أحمد علي", Phone: "0501112233"},
		Relationship: "father",
	})
	require.NoError(t, err)
	assert.Equal(t, "يوسف أحمد", out.Credentials.Student.Username)
	assert.Equal(t, "0501112233", out.Credentials.Student.Password)
	assert.Equal(t, "أحمد علي", out.Credentials.Parent.Username)
	assert.Equal(t, "0501112233", out.Credentials.Parent.Password)

	_, actor, err := accounts.Login("يوسف أحمد", "0501112233")
	require.NoError(t, err)
	assert.Equal(t, access.RoleStudent, actor.Role)
	require.NotNil(t, actor.StudentID)
	assert.Equal(t, out.Student.ID, *actor.StudentID)

	_, parent, err := accounts.Login("أحمد علي", "0501112233")
	require.NoError(t, err)
	require.NotNil(t, parent.ParentID)
	linked, err := parentOf(w.DB, *parent.ParentID, out.Student.ID)
	require.NoError(t, err)
	assert.True(t, linked)

	again, err := accounts.ProvisionStudentWithParent(w.Admin, ProvisionInput{
		Student:      StudentInput{FullName: "يوسف أحمد", Phone: "0559998877", HalqaID: w.Halqa.ID},
		Parent:       ParentInput{FullName: "أحمد علي", Phone: "0504445566"},
		Relationship: "guardian",
	})
	require.NoError(t, err)
	assert.Equal(t, "يوسف أحمد2", again.Credentials.Student.Username)
	assert.Equal(t, "0559998877", again.Credentials.Student.Password)
	assert.Equal(t, "أحمد علي2", again.Credentials.Parent.Username)
}

func TestProvisionValidatesEverythingFirst(t *testing.T) {
	w := testutil.NewWorld(t)
	accounts := NewAccountService(w.DB, nil)

	_, err := accounts.ProvisionStudentWithParent(w.Admin, ProvisionInput{
		Student: StudentInput{HalqaID: w.Halqa.ID}, Relationship: "cousin",
	})
	assert.Equal(t, "validation", Kind(err))
	assert.Len(t, FieldsOf(err), 4)

	_, err = accounts.ProvisionStudentWithParent(w.TeacherActor, ProvisionInput{})
	assert.Equal(t, "forbidden", Kind(err))

	var n int64
	require.NoError(t, w.DB.Model(&models.Student{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestLoginRejectsBadPasswordAndDisabledAccount(t *testing.T) {
	w := testutil.NewWorld(t)
	accounts := NewAccountService(w.DB, nil)
	var teacher models.User
	require.NoError(t, w.DB.First(&teacher, w.TeacherActor.UserID).Error)

	_, _, err := accounts.Login(teacher.Username, "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	u, actor, err := accounts.Login(teacher.Username, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, w.Teacher.ID, *actor.TeacherID)

	_, err = accounts.SetAccountStatus(w.Admin, u.ID, false)
	require.NoError(t, err)
	_, _, err = accounts.Login(teacher.Username, testutil.Password)
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = accounts.Active(u.ID)
	assert.Equal(t, "forbidden", Kind(err))

	_, err = accounts.SetAccountStatus(w.Admin, w.Admin.UserID, false)
	assert.Equal(t, "forbidden", Kind(err))
	_, err = accounts.SetAccountStatus(w.Super, w.Super.UserID, false)
	assert.Equal(t, "validation", Kind(err))
}

func TestStaffAccountRules(t *testing.T) {
	w := testutil.NewWorld(t)
	accounts := NewAccountService(w.DB, nil)

	_, err := accounts.CreateStaffAccount(w.Admin, StaffInput{
		Username: "admin2", Password: "secret1", FullName: "x", Role: access.RoleCenterAdmin,
	})
	assert.Equal(t, "forbidden", Kind(err))

	_, err = accounts.CreateStaffAccount(w.Admin, StaffInput{
		Username: "p1", Password: "secret1", FullName: "x", Role: access.RoleParent,
	})
	assert.Equal(t, "validation", Kind(err))

	u, err := accounts.CreateStaffAccount(w.Admin, StaffInput{
		Username: "teacher_new", Password: "secret1", FullName: "المعلم الجديد", Role: access.RoleTeacher,
	})
	require.NoError(t, err)
	assert.Equal(t, w.Center.ID, *u.CenterID)
	var tc models.Teacher
	require.NoError(t, w.DB.Where("user_id = ?", u.ID).First(&tc).Error)
	assert.Equal(t, "المعلم الجديد", tc.FullName)

	_, err = accounts.CreateStaffAccount(w.Admin, StaffInput{
		Username: "teacher_new", Password: "secret1", FullName: "y", Role: access.RoleTeacher,
	})
	assert.Equal(t, "conflict", Kind(err))

	_, err = accounts.CreateStaffAccount(w.Super, StaffInput{
		Username: "officer_x", Password: "secret1", FullName: "z", Role: access.RoleCommunicationOfficer,
	})
	assert.Equal(t, "validation", Kind(err))
}

func TestPasswordChangeAndReset(t *testing.T) {
	w := testutil.NewWorld(t)
	accounts := NewAccountService(w.DB, nil)
	var teacher models.User
	require.NoError(t, w.DB.First(&teacher, w.TeacherActor.UserID).Error)

	err := accounts.ChangePassword(w.TeacherActor, "nope", "newpass1")
	assert.Equal(t, "validation", Kind(err))
	require.NoError(t, accounts.ChangePassword(w.TeacherActor, testutil.Password, "newpass1"))
	_, _, err = accounts.Login(teacher.Username, "newpass1")
	require.NoError(t, err)

	require.NoError(t, accounts.ResetPassword(w.Admin, teacher.ID, "reset123"))
	_, _, err = accounts.Login(teacher.Username, "reset123")
	require.NoError(t, err)

	users, total, err := accounts.ListUsers(w.Admin, UserFilter{Role: access.RoleTeacher})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, teacher.ID, users[0].ID)
}

func TestLogoutWithoutRedisIsNoop(t *testing.T) {
	accounts := NewAccountService(testutil.NewDB(t), nil)
	require.NoError(t, accounts.Logout(context.Background(), "token", 0))
	assert.False(t, accounts.Revoked(context.Background(), "token"))
}
