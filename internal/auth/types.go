package auth

import "errors"

// Role is the access tier carried in a token.
type Role string

const (
	// RoleOperator drives readers: reservations, capture, attendance and
	// enrollment.
	RoleOperator Role = "operator"

	// RoleAdmin additionally manages subjects and their templates.
	RoleAdmin Role = "admin"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
