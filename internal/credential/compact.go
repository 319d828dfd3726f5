package credential

import (
	"encoding/base64"
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultBudget is the largest access token, in characters, that fits the
// cookie slot alongside its name and attributes.
const DefaultBudget = 4000

// Strategy names the compaction step that produced a stored token.
type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyReduced   Strategy = "reduced"
	StrategyMinimal   Strategy = "minimal"
	StrategyTruncated Strategy = "truncated"
)

// Signature markers for re-encoded tokens. The original signature no longer
// matches the rewritten claims, so it is replaced with a marker instead. The
// marker is stored base64url encoded so the token still parses as a JWT.
const (
	MarkerReduced = "compacted"
	MarkerMinimal = "minimal"
)

// MarkerSegment returns the signature segment written for marker.
func MarkerSegment(marker string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(marker))
}

// encoder rebuilds a token from its header segment and decoded claims.
type encoder struct {
	strategy Strategy
	encode   func(header string, mc jwt.MapClaims) (string, error)
}

// encoders are tried in order; the first result within budget wins.
var encoders = []encoder{
	{StrategyReduced, encodeReduced},
	{StrategyMinimal, encodeMinimal},
}

// Compact shrinks token to at most budget characters. The result is for
// storage and edge routing only; it never verifies at the issuer.
//
// Truncation is the last resort and is lossy: a truncated token no longer
// decodes, so the next guard pass treats the session as broken and forces
// sign-in.
func Compact(token string, budget int) (string, Strategy) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if len(token) <= budget {
		return token, StrategyNone
	}

	if mc, header, err := parseUnverified(token); err == nil {
		for _, e := range encoders {
			out, err := e.encode(header, mc)
			if err == nil && len(out) <= budget {
				return out, e.strategy
			}
		}
	}

	return token[:budget], StrategyTruncated
}

func encodeReduced(header string, mc jwt.MapClaims) (string, error) {
	reduced := map[string]any{}
	for _, k := range []string{claimSubject, claimRoles, claimExpiry, claimLinkStatus} {
		if v, ok := mc[k]; ok {
			reduced[k] = v
		}
	}
	return assemble(header, reduced, MarkerReduced)
}

func encodeMinimal(header string, mc jwt.MapClaims) (string, error) {
	minimal := map[string]any{
		claimRoles: roleNames(mc[claimRoles]),
	}
	for _, k := range []string{claimSubject, claimExpiry, claimLinkStatus} {
		if v, ok := mc[k]; ok {
			minimal[k] = v
		}
	}
	return assemble(header, minimal, MarkerMinimal)
}

func assemble(header string, claims map[string]any, marker string) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "." + MarkerSegment(marker), nil
}
