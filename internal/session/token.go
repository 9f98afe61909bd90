package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "betweenus-backend"

// Claims are carried by bearer tokens.
type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer uses secret for signing. An empty secret is replaced by a
// random one, which invalidates tokens on every restart.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}
	return &TokenIssuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for userID.
func (t *TokenIssuer) Issue(userID uint) (string, error) {
	now := t.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies token and returns the user it was issued to.
func (t *TokenIssuer) Parse(token string) (uint, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	if claims.UserID == 0 {
		return 0, errors.New("token carries no user")
	}
	return claims.UserID, nil
}
