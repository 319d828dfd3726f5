package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/golang-jwt/jwt/v5"

	"consolegate/internal/domain"
)

// Claim keys consumed from the access token.
const (
	claimSubject     = "sub"
	claimRoles       = "roles"
	claimPermissions = "permissions"
	claimDepartments = "departments"
	claimExpiry      = "exp"
	claimLinkStatus  = "zaloLinkStatus"
)

// DecodeClaims decodes the claims segment of an access token WITHOUT verifying
// its signature. The issuing backend is the only verifier; the edge treats the
// result as untrusted routing input.
func DecodeClaims(token string) (domain.Claims, error) {
	mc, _, err := parseUnverified(token)
	if err != nil {
		return domain.Claims{}, err
	}
	return claimsFromMap(mc)
}

// parseUnverified returns the raw claims and the encoded header segment.
func parseUnverified(token string) (jwt.MapClaims, string, error) {
	mc := jwt.MapClaims{}
	_, parts, err := jwt.NewParser().ParseUnverified(token, mc)
	// An unknown alg leaves the claims decoded; only malformed segments matter here.
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if len(parts) != 3 {
		return nil, "", domain.ErrInvalidToken
	}
	return mc, parts[0], nil
}

func claimsFromMap(mc jwt.MapClaims) (domain.Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return domain.Claims{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if exp == nil {
		return domain.Claims{}, domain.ErrMissingExpiry
	}

	linkStatus, ok := intClaim(mc[claimLinkStatus])
	if !ok {
		return domain.Claims{}, fmt.Errorf("%w: %s is not numeric", domain.ErrInvalidToken, claimLinkStatus)
	}

	names := roleNames(mc[claimRoles])
	roles := make([]domain.Role, len(names))
	for i, n := range names {
		roles[i] = domain.ParseRole(n)
	}

	return domain.Claims{
		Subject:     sub,
		Roles:       roles,
		Permissions: permissions(mc[claimPermissions]),
		Departments: departments(mc[claimDepartments]),
		ExpiresAt:   exp.Time,
		LinkStatus:  linkStatus,
	}, nil
}

// roleNames accepts both ["admin"] and [{"name": "admin"}] encodings.
func roleNames(v any) []string {
	list, _ := v.([]any)
	names := make([]string, 0, len(list))
	for _, item := range list {
		switch r := item.(type) {
		case string:
			if r != "" {
				names = append(names, r)
			}
		case map[string]any:
			if n, _ := r["name"].(string); n != "" {
				names = append(names, n)
			}
		}
	}
	return names
}

func permissions(v any) []domain.Permission {
	list, _ := v.([]any)
	perms := make([]domain.Permission, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		rawAction, _ := m["action"].(string)
		action, ok := domain.ParseAction(rawAction)
		if name == "" || !ok || action == "" {
			continue
		}
		perms = append(perms, domain.Permission{Name: name, Action: action})
	}
	return perms
}

// departments accepts both ["sales"] and [{"slug": "sales"}] encodings.
func departments(v any) []string {
	list, _ := v.([]any)
	slugs := make([]string, 0, len(list))
	for _, item := range list {
		switch d := item.(type) {
		case string:
			if d != "" {
				slugs = append(slugs, d)
			}
		case map[string]any:
			if s, _ := d["slug"].(string); s != "" {
				slugs = append(slugs, s)
			}
		}
	}
	return slugs
}

// intClaim reads an optional numeric claim; absent means zero.
func intClaim(v any) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
