package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleCan(t *testing.T) {
	tests := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleCommunicationOfficer, ReviewReports, true},
		{RoleTeacher, ReviewReports, false},
		{RoleTeacher, SubmitReports, true},
		{RoleStudent, RequestPurchases, true},
		{RoleStudent, DecidePurchases, false},
		{RoleParent, RespondConsents, true},
		{RoleParent, ManageConsents, false},
		{RoleCenterAdmin, ManageCenters, false},
		{RoleSuperAdmin, ManageCenters, true},
		{Role("janitor"), ViewLedger, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(string(tc.role)+"/"+string(tc.cap), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.role.Can(tc.cap))
		})
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range Roles {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("").Valid())
	assert.False(t, Role("owner").Valid())
}

func TestActorInCenter(t *testing.T) {
	center := uint(7)
	admin := Actor{Role: RoleCenterAdmin, CenterID: &center}
	assert.True(t, admin.InCenter(7))
	assert.False(t, admin.InCenter(8))

	orphan := Actor{Role: RoleTeacher}
	assert.False(t, orphan.InCenter(7))

	assert.True(t, System.InCenter(8))
	assert.Equal(t, uint(0), System.CenterOrZero())
	assert.Equal(t, uint(7), admin.CenterOrZero())
}

func TestActorIdentity(t *testing.T) {
	sid, pid, tid := uint(3), uint(4), uint(5)
	a := Actor{Role: RoleStudent, StudentID: &sid}
	assert.True(t, a.IsStudent(3))
	assert.False(t, a.IsStudent(4))
	assert.False(t, a.IsParent(4))

	p := Actor{Role: RoleParent, ParentID: &pid}
	assert.True(t, p.IsParent(4))

	tt := Actor{Role: RoleTeacher, TeacherID: &tid}
	assert.True(t, tt.IsTeacher(5))
	assert.True(t, tt.Role.IsStaff())
	assert.False(t, p.Role.IsStaff())
}
