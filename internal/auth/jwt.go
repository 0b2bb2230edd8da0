package auth

import (
	"errors"
	"time"

	"dialgate/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Manager issues and verifies API-key tokens. A key is a long-lived HS256
// token carrying account_id, api_key_id and scopes; revocation happens by
// rotating the signing secret or maintaining a denylist upstream.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.KeySecret == "" {
		return nil, errors.New("API_KEY_SECRET is required")
	}
	return &Manager{
		secret:   []byte(cfg.KeySecret),
		issuer:   cfg.KeyIssuer,
		audience: cfg.KeyAudience,
	}, nil
}

// IssueKey mints a new API key for an account. The embedded api_key_id is
// generated here and returned alongside the token.
func (m *Manager) IssueKey(now time.Time, accountID string, scopes []string) (token, apiKeyID string, err error) {
	if accountID == "" {
		return "", "", errors.New("account_id required")
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeCallsRead, ScopeCallsWrite}
	}

	apiKeyID = uuid.NewString()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   m.issuer,
			Audience: audienceOrNil(m.audience),
			IssuedAt: jwt.NewNumericDate(now),
			ID:       apiKeyID,
		},
		AccountID: accountID,
		APIKeyID:  apiKeyID,
		Scopes:    scopes,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(m.secret)
	return token, apiKeyID, err
}

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	validator := jwt.NewValidator(opts...)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.AccountID == "" {
		return Claims{}, errors.New("account_id missing")
	}
	if claims.APIKeyID == "" {
		return Claims{}, errors.New("api_key_id missing")
	}

	return claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
