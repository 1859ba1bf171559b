package authmw

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kyri56xcaesar/pms-kanban/internal/store"
)

// Identity is what a verified token says about its bearer.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Roles   []string
	// Local marks tokens minted by TokenIssuer; Subject is then a store
	// user id.
	Local bool
}

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 access tokens for local accounts.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	Leeway time.Duration

	now func() time.Time
}

func NewTokenIssuer(secret []byte, ttl time.Duration, issuer string) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		secret: secret,
		ttl:    ttl,
		issuer: issuer,
		Leeway: 30 * time.Second,
		now:    time.Now,
	}, nil
}

// Issue signs a token for u and returns it with its expiry.
func (t *TokenIssuer) Issue(u store.User) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)

	claims := Claims{
		Role:  string(u.Role),
		Email: u.Email,
		Name:  u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (t *TokenIssuer) Verify(tokenStr string) (*Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(t.Leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return &Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Roles:   uniq([]string{claims.Role}),
		Local:   true,
	}, nil
}
