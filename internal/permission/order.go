package permission

import (
	"slices"

	"consolegate/internal/domain"
)

// OrderManagementSlug is the resource slug of the order management area.
const OrderManagementSlug = "quan-ly-don-hang"

// OrderManagementActions returns the actions claims may perform in the order
// management area.
//
// Admins, any manager role, and the global analysis role get the full action
// set. A pm role without one of those gets nothing: PM-only accounts stay out
// of the area until another role elevates them. Everyone else gets whatever
// Decide admits on OrderManagementSlug.
func OrderManagementActions(claims domain.Claims) []domain.Action {
	elevated := claims.HasRole(domain.RoleAdmin) ||
		claims.HasRoleFamily(domain.RoleManager) ||
		claims.HasRole(domain.RoleAnalysis)

	switch {
	case elevated:
		return slices.Clone(domain.AllActions)
	case claims.HasRoleFamily(domain.RolePM):
		return nil
	default:
		return Allowed(claims, OrderManagementSlug)
	}
}

// AllowOrderManagement reports whether claims may perform action in the order
// management area. An empty action asks whether the area is reachable at all.
func AllowOrderManagement(claims domain.Claims, action domain.Action) bool {
	actions := OrderManagementActions(claims)
	if action == "" {
		return len(actions) > 0
	}
	return slices.Contains(actions, action)
}
