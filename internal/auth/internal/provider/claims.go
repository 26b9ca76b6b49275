package provider

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	expiresAt time.Time
	scope     string
}

// parseClaims reads exp and scope from a JWT access token. The signature is
// not checked: the token came straight from the token endpoint and only its
// lifetime is of interest. Opaque tokens report ok == false.
func parseClaims(accessToken string) (tokenClaims, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	mapClaims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, mapClaims); err != nil {
		return tokenClaims{}, false
	}

	var out tokenClaims
	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return tokenClaims{}, false
	}
	out.expiresAt = exp.Time

	// "scope" is space-separated; some issuers send "scp" as an array instead.
	if s, ok := mapClaims["scope"].(string); ok {
		out.scope = s
	}
	if scp, ok := mapClaims["scp"].([]any); ok && out.scope == "" {
		parts := make([]string, 0, len(scp))
		for _, v := range scp {
			if str, ok := v.(string); ok {
				parts = append(parts, str)
			}
		}
		out.scope = strings.Join(parts, " ")
	}

	return out, true
}
