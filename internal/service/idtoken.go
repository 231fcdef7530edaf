package service

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// idTokenClaims is the subset of OIDC ID token claims this package reads.
// Signatures are verified by the broker and the backend, never here.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Nonce   string `json:"nonce"`
}

// parseUnverifiedIDToken decodes claims from a JWT without checking its signature.
// It reports false for anything that is not a JWT.
func parseUnverifiedIDToken(raw string) (idTokenClaims, bool) {
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return idTokenClaims{}, false
	}
	return claims, true
}

// profileJSON renders the non-secret profile claims as raw JSON.
func (c idTokenClaims) profileJSON() json.RawMessage {
	profile := map[string]string{}
	for k, v := range map[string]string{
		"sub":     c.Subject,
		"email":   c.Email,
		"name":    c.Name,
		"picture": c.Picture,
		"iss":     c.Issuer,
	} {
		if v != "" {
			profile[k] = v
		}
	}
	b, err := json.Marshal(profile)
	if err != nil {
		return nil
	}
	return b
}
