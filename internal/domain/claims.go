package domain

import (
	"slices"
	"strings"
	"time"
)

// Global role names carried in access-token claims.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleView     = "view"
	RoleAnalysis = "analysis"
	RolePM       = "pm"
	RoleUser     = "user"
)

// scopedPrefixes are the role prefixes that may be followed by "-{departmentSlug}".
var scopedPrefixes = []string{RoleManager, RoleUser, RolePM}

// Role is either a global role (Prefix == "") or a role scoped to one
// department ("manager-sales" has Prefix "manager", Department "sales").
type Role struct {
	Name       string
	Prefix     string
	Department string
}

// ParseRole splits a role name into its variant. It is the only place role
// strings are interpreted; everything else works on the parsed form.
func ParseRole(name string) Role {
	for _, p := range scopedPrefixes {
		if dept, ok := strings.CutPrefix(name, p+"-"); ok && dept != "" {
			return Role{Name: name, Prefix: p, Department: dept}
		}
	}
	return Role{Name: name}
}

// Global reports whether the role applies across all departments.
func (r Role) Global() bool { return r.Prefix == "" }

// InFamily reports whether the role is the global role named prefix or a
// department-scoped role with that prefix.
func (r Role) InFamily(prefix string) bool {
	if r.Global() {
		return r.Name == prefix
	}
	return r.Prefix == prefix
}

func (r Role) String() string { return r.Name }

// Action is an operation on a resource. The zero value means "no action requested".
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionImport Action = "import"
	ActionExport Action = "export"
)

// AllActions lists every action in display order.
var AllActions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionImport, ActionExport}

// ParseAction validates s as an Action. The empty string is accepted and means absent.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if a == "" || slices.Contains(AllActions, a) {
		return a, true
	}
	return "", false
}

// Permission grants one action on a resource slug.
type Permission struct {
	Name   string `json:"name"`
	Action Action `json:"action"`
}

// Account-link states carried in the zaloLinkStatus claim.
const (
	LinkStatusOK     = 0
	LinkStatusBroken = 2
)

// Claims is the decoded, unverified payload of an access token.
type Claims struct {
	Subject     string
	Roles       []Role
	Permissions []Permission
	Departments []string
	ExpiresAt   time.Time
	LinkStatus  int
}

// HasRole reports whether the claims carry the role with exactly this name.
func (c Claims) HasRole(name string) bool {
	return slices.ContainsFunc(c.Roles, func(r Role) bool { return r.Name == name })
}

// HasRoleFamily reports whether any role is prefix itself or prefix-{dept}.
func (c Claims) HasRoleFamily(prefix string) bool {
	return slices.ContainsFunc(c.Roles, func(r Role) bool { return r.InFamily(prefix) })
}

// RoleNames returns the raw role names in claim order.
func (c Claims) RoleNames() []string {
	names := make([]string, len(c.Roles))
	for i, r := range c.Roles {
		names[i] = r.Name
	}
	return names
}

// Expired reports whether the claims' expiry is at or before now.
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Credential is the two-part bearer credential held by the client.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// TokenPair is the refresh endpoint's success response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
