package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported API-key token claims shape for this service.
// AccountID scopes every call to its owning account; APIKeyID identifies the
// credential for rate limiting and audit.
type Claims struct {
	jwt.RegisteredClaims

	AccountID string   `json:"account_id"`
	APIKeyID  string   `json:"api_key_id"`
	Scopes    []string `json:"scopes"`
}
