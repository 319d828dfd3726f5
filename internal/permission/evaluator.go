// Package permission resolves the console's layered authorization policy
// (global roles, department-scoped roles, explicit grants) into per-action
// admission decisions. Everything here is pure: no I/O, no clocks.
package permission

import (
	"slices"

	"consolegate/internal/domain"
)

// Check describes what a caller is asking for. Zero fields are absent.
type Check struct {
	Resource       string
	Action         domain.Action
	AnyRole        []string
	RequirePM      bool
	RequireManager bool
}

// Decide evaluates check against claims. Rules are applied top to bottom and
// the first that matches decides:
//
//  1. global admin allows everything
//  2. global view allows only absent, read, and export actions
//  3. AnyRole denies when no claimed role name is listed
//  4. RequirePM denies without a pm or pm-* role
//  5. RequireManager denies without a manager or manager-* role
//  6. resource and action allow iff a grant with that action names the resource
//  7. resource alone allows iff a department, scoped role, or grant names it
//  8. otherwise allow
func Decide(claims domain.Claims, check Check) bool {
	if claims.HasRole(domain.RoleAdmin) {
		return true
	}
	if claims.HasRole(domain.RoleView) {
		return viewCeiling(check.Action)
	}
	if len(check.AnyRole) > 0 && !slices.ContainsFunc(claims.Roles, func(r domain.Role) bool {
		return slices.Contains(check.AnyRole, r.Name)
	}) {
		return false
	}
	if check.RequirePM && !claims.HasRoleFamily(domain.RolePM) {
		return false
	}
	if check.RequireManager && !claims.HasRoleFamily(domain.RoleManager) {
		return false
	}

	switch {
	case check.Resource != "" && check.Action != "":
		return slices.ContainsFunc(claims.Permissions, func(p domain.Permission) bool {
			return p.Action == check.Action && Matches(p.Name, check.Resource)
		})
	case check.Resource != "":
		return hasResource(claims, check.Resource)
	}
	return true
}

// viewCeiling is the action set a global view role may perform on any resource.
func viewCeiling(a domain.Action) bool {
	return a == "" || a == domain.ActionRead || a == domain.ActionExport
}

func hasResource(claims domain.Claims, slug string) bool {
	if slices.Contains(claims.Departments, slug) {
		return true
	}
	if slices.ContainsFunc(claims.Roles, func(r domain.Role) bool {
		return !r.Global() && r.Department == slug
	}) {
		return true
	}
	return slices.ContainsFunc(claims.Permissions, func(p domain.Permission) bool {
		return Matches(p.Name, slug)
	})
}

// Matches reports whether a grant named name covers resource slug. Grants for
// statistics pages were historically issued under two prefixed spellings, so
// "thong-ke-X" and "thong_ke_X" both cover X.
func Matches(name, slug string) bool {
	return name == slug || name == "thong-ke-"+slug || name == "thong_ke_"+slug
}

// Allowed lists the actions Decide admits on resource, in display order.
func Allowed(claims domain.Claims, resource string) []domain.Action {
	var out []domain.Action
	for _, a := range domain.AllActions {
		if Decide(claims, Check{Resource: resource, Action: a}) {
			out = append(out, a)
		}
	}
	return out
}
