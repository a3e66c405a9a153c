package model

import "fmt"

// Role is the closed set of portal roles carried in access tokens.
type Role string

const (
	RoleRegistrar Role = "registrar"
	RoleTeacher   Role = "teacher"
	RoleStudent   Role = "student"
)

// legacyRoles maps role strings issued by the old portal.
var legacyRoles = map[string]Role{
	"registrator": RoleRegistrar,
	"oqituvchi":   RoleTeacher,
	"talaba":      RoleStudent,
}

// ParseRole accepts canonical and legacy role names.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleRegistrar, RoleTeacher, RoleStudent:
		return r, nil
	}
	if r, ok := legacyRoles[s]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	return r == RoleRegistrar || r == RoleTeacher || r == RoleStudent
}
