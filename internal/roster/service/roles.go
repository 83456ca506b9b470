package service

import (
	"strings"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

// RoleRule grants Role when any membership contains one of Match.
type RoleRule struct {
	Match []string // lowercase substrings
	Role  domain.Role
}

// DefaultRoleRules are evaluated in order; the first match wins.
var DefaultRoleRules = []RoleRule{
	{Match: []string{"cn=hr", "human resources"}, Role: domain.RoleHR},
	{Match: []string{"cn=managers", "cn=supervisors"}, Role: domain.RoleSupervisor},
	{Match: []string{"cn=admins", "cn=administrators"}, Role: domain.RoleAdmin},
}

// DeriveRole maps raw group DNs onto a role. Matching is case-insensitive.
// With no match the identity is an EMPLOYEE.
func DeriveRole(rules []RoleRule, groups []string) domain.Role {
	lowered := make([]string, len(groups))
	for i, g := range groups {
		lowered[i] = strings.ToLower(g)
	}

	for _, rule := range rules {
		for _, needle := range rule.Match {
			for _, g := range lowered {
				if strings.Contains(g, needle) {
					return rule.Role
				}
			}
		}
	}
	return domain.RoleEmployee
}
