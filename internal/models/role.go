package models

// Role is a closed enumeration. Access decisions go through RoleCan so
// that role semantics live in one table instead of scattered string
// comparisons.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
)

type Action string

const (
	ActionManageUsers        Action = "manage_users"
	ActionViewSecurityLog    Action = "view_security_log"
	ActionManageOwnTwoFactor Action = "manage_own_two_factor"
	ActionDownloadDocuments  Action = "download_documents"
)

var rolePermissions = map[Role]map[Action]bool{
	RoleSuperAdmin: {
		ActionManageUsers:        true,
		ActionViewSecurityLog:    true,
		ActionManageOwnTwoFactor: true,
		ActionDownloadDocuments:  true,
	},
	RoleAdmin: {
		ActionManageUsers:        true,
		ActionViewSecurityLog:    true,
		ActionManageOwnTwoFactor: true,
		ActionDownloadDocuments:  true,
	},
	RoleMember: {
		ActionManageOwnTwoFactor: true,
		ActionDownloadDocuments:  true,
	},
}

// ParseRole maps a stored role string onto the enumeration.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleSuperAdmin, RoleAdmin, RoleMember:
		return Role(value), true
	}
	return "", false
}

// RoleCan reports whether the role is allowed to perform the action.
// Unknown roles and unknown actions are denied.
func RoleCan(role Role, action Action) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	return perms[action]
}
