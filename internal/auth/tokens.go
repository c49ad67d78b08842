package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexbank/auth-service/internal/domain"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenPair is a freshly signed access/refresh token pair.
type TokenPair struct {
	Access  string
	Refresh string
}

type sessionClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates HS256-signed session tokens. Access and
// refresh tokens carry a typ claim so one cannot stand in for the other.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates a TokenIssuer signing with the given secret.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock overrides the issuer's time source. Test hook.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// AccessTTL is the configured access token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL is the configured refresh token lifetime.
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

func (t *TokenIssuer) sign(accountID, tokenType string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := sessionClaims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Issue mints an access/refresh pair carrying the account id as subject.
func (t *TokenIssuer) Issue(accountID string) (TokenPair, error) {
	access, err := t.sign(accountID, tokenTypeAccess, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.sign(accountID, tokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (t *TokenIssuer) verify(tokenString, wantType string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(t.now),
	)
	claims := &sessionClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", domain.ErrTokenExpired
		}
		return "", domain.ErrTokenInvalid
	}
	if !token.Valid || claims.TokenType != wantType || claims.Subject == "" {
		return "", domain.ErrTokenInvalid
	}
	return claims.Subject, nil
}

// VerifyAccess validates an access token and returns the account id it carries.
func (t *TokenIssuer) VerifyAccess(tokenString string) (string, error) {
	return t.verify(tokenString, tokenTypeAccess)
}

// VerifyRefresh validates a refresh token and returns the account id it carries.
func (t *TokenIssuer) VerifyRefresh(tokenString string) (string, error) {
	return t.verify(tokenString, tokenTypeRefresh)
}
