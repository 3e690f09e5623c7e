package auth

// Permission represents a named capability.
type Permission string

const (
	PermReaderRead    Permission = "reader:read"
	PermReaderOperate Permission = "reader:operate"
	PermEnroll        Permission = "enrollment:operate"
	PermSubjectRead   Permission = "subject:read"
	PermSubjectManage Permission = "subject:manage"
)

// rolePermissions is the single source of truth for authorisation.
var rolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermReaderRead,
		PermReaderOperate,
		PermEnroll,
		PermSubjectRead,
	},
	RoleAdmin: {
		PermReaderRead,
		PermReaderOperate,
		PermEnroll,
		PermSubjectRead,
		PermSubjectManage,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
