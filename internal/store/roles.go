// ABOUTME: Caller role names used for credential scoping and admin checks
// ABOUTME: Provides role parsing and the intersection test used by credential selection

package store

import "fmt"

// RoleName represents a role a caller can hold
type RoleName string

const (
	RoleAdmin   RoleName = "Admin"
	RoleUser    RoleName = "User"
	RoleGuest   RoleName = "Guest"
	RoleSupport RoleName = "Support"
	RoleTester  RoleName = "Tester"
	RolePartner RoleName = "Partner"
)

// ValidRoleNames lists all valid role names
var ValidRoleNames = []RoleName{
	RoleAdmin,
	RoleUser,
	RoleGuest,
	RoleSupport,
	RoleTester,
	RolePartner,
}

// ParseRole converts a string to a RoleName, rejecting unknown names
func ParseRole(s string) (RoleName, error) {
	for _, r := range ValidRoleNames {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role: %q", s)
}

// HasAnyRole reports whether the two role sets intersect
func HasAnyRole(scope, held []RoleName) bool {
	for _, s := range scope {
		for _, h := range held {
			if s == h {
				return true
			}
		}
	}
	return false
}
