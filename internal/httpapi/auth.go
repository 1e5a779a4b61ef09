package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

const defaultTokenTTL = 8 * time.Hour

var (
	errInvalidToken   = errors.New("invalid or expired token")
	errInvalidSubject = errors.New("invalid token subject")
)

// Principal is the authenticated caller. Subject becomes the sale actor.
type Principal struct {
	Subject string
	Role    string
}

type posClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// TokenAuth verifies HS256 bearer tokens. Tokens are minted by an operator
// tool with the same secret; the API has no login surface.
type TokenAuth struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenAuth(secret string, issuer string) *TokenAuth {
	if issuer == "" {
		issuer = "possale"
	}
	return &TokenAuth{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (a *TokenAuth) Sign(subject string, role string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errInvalidSubject
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := a.now().UTC()
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			Issuer:    a.issuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *TokenAuth) ParseToken(tokenStr string) (Principal, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(a.issuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return Principal{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Principal{}, errInvalidSubject
	}
	return Principal{Subject: sub, Role: claims.Role}, nil
}
