// Package access holds the closed set of roles and the capability check every handler
// and service consults before acting on behalf of a user.
package access

// Role is one of the fixed account roles.
type Role string

const (
	RoleSuperAdmin           Role = "super_admin"
	RoleCenterAdmin          Role = "center_admin"
	RoleTeacher              Role = "teacher"
	RoleCommunicationOfficer Role = "communication_officer"
	RoleParent               Role = "parent"
	RoleStudent              Role = "student"
)

// Roles lists every valid role.
var Roles = []Role{
	RoleSuperAdmin,
	RoleCenterAdmin,
	RoleTeacher,
	RoleCommunicationOfficer,
	RoleParent,
	RoleStudent,
}

// Capability names a permission that can be granted to roles.
type Capability string

const (
	ManageCenters     Capability = "centers:manage"
	ManageDirectory   Capability = "directory:manage"
	ViewDirectory     Capability = "directory:view"
	ManageAccounts    Capability = "accounts:manage"
	ManageCatalog     Capability = "catalog:manage"
	ManageBadges      Capability = "badges:manage"
	AwardBadges       Capability = "badges:award"
	GrantPoints       Capability = "ledger:grant"
	ViewLedger        Capability = "ledger:view"
	DecidePurchases   Capability = "purchases:decide"
	RequestPurchases  Capability = "purchases:request"
	CastVotes         Capability = "votes:cast"
	ConvertVotes      Capability = "votes:convert"
	SubmitReports     Capability = "reports:submit"
	ReviewReports     Capability = "reports:review"
	ManageConsents    Capability = "consents:manage"
	RespondConsents   Capability = "consents:respond"
	MarkAttendance    Capability = "holidays:attendance"
	ExecutePrivileged Capability = "privileged:execute"
	ViewAuditLogs     Capability = "audit:view"
	ImportExport      Capability = "spreadsheets:use"
)

var grants = map[Role][]Capability{
	RoleSuperAdmin: {
		ManageCenters, ManageDirectory, ViewDirectory, ManageAccounts, ManageCatalog, ManageBadges,
		AwardBadges, GrantPoints, ViewLedger, DecidePurchases, ConvertVotes, ReviewReports,
		ManageConsents, MarkAttendance, ExecutePrivileged, ViewAuditLogs, ImportExport,
	},
	RoleCenterAdmin: {
		ManageDirectory, ViewDirectory, ManageAccounts, ManageCatalog, ManageBadges, AwardBadges,
		GrantPoints, ViewLedger, DecidePurchases, ConvertVotes, ReviewReports, ManageConsents,
		MarkAttendance, ExecutePrivileged, ViewAuditLogs, ImportExport,
	},
	RoleCommunicationOfficer: {
		ViewDirectory, ViewLedger, DecidePurchases, ConvertVotes, ReviewReports, SubmitReports,
		ManageConsents, MarkAttendance, AwardBadges, ImportExport,
	},
	RoleTeacher: {
		ViewDirectory, ViewLedger, SubmitReports, AwardBadges, GrantPoints, MarkAttendance,
	},
	RoleParent: {
		ViewLedger, RespondConsents,
	},
	RoleStudent: {
		ViewLedger, RequestPurchases, CastVotes,
	},
}

var capabilitySets = func() map[Role]map[Capability]struct{} {
	out := make(map[Role]map[Capability]struct{}, len(grants))
	for role, caps := range grants {
		set := make(map[Capability]struct{}, len(caps))
		for _, c := range caps {
			set[c] = struct{}{}
		}
		out[role] = set
	}
	return out
}()

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := grants[r]
	return ok
}

// Can reports whether the role carries the capability.
func (r Role) Can(c Capability) bool {
	_, ok := capabilitySets[r][c]
	return ok
}

// IsStaff is true for every role that works inside a center.
func (r Role) IsStaff() bool {
	switch r {
	case RoleSuperAdmin, RoleCenterAdmin, RoleTeacher, RoleCommunicationOfficer:
		return true
	}
	return false
}

// Actor is the authenticated caller. It is built once per request and handed to services
// explicitly.
type Actor struct {
	UserID    uint
	Role      Role
	CenterID  *uint
	TeacherID *uint
	StudentID *uint
	ParentID  *uint
}

// System is used by background jobs.
var System = Actor{Role: RoleSuperAdmin}

func (a Actor) Can(c Capability) bool { return a.Role.Can(c) }

// IsGlobal is true when the actor is not bound to a single center.
func (a Actor) IsGlobal() bool { return a.Role == RoleSuperAdmin }

// InCenter reports whether the actor may see rows of the given center.
func (a Actor) InCenter(centerID uint) bool {
	if a.IsGlobal() {
		return true
	}
	return a.CenterID != nil && *a.CenterID == centerID
}

// CenterOrZero returns the actor's center id, or 0 for global actors.
func (a Actor) CenterOrZero() uint {
	if a.CenterID == nil {
		return 0
	}
	return *a.CenterID
}

// IsStudent reports whether the actor is the given student.
func (a Actor) IsStudent(studentID uint) bool {
	return a.StudentID != nil && *a.StudentID == studentID
}

// IsParent reports whether the actor is the given parent.
func (a Actor) IsParent(parentID uint) bool {
	return a.ParentID != nil && *a.ParentID == parentID
}

// IsTeacher reports whether the actor is the given teacher.
func (a Actor) IsTeacher(teacherID uint) bool {
	return a.TeacherID != nil && *a.TeacherID == teacherID
}
