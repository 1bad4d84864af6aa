// Package identity verifies the credential a connection presents and yields
// the user it belongs to. Tokens are issued elsewhere; this side only checks
// them.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredential is returned when no credential was presented.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential is returned when the credential cannot be verified.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrExpiredCredential is returned when the token has expired.
	ErrExpiredCredential = errors.New("credential has expired")
)

// Identity is a verified user.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Verifier turns a presented credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Claims are the token claims the chat service reads. Subject carries the
// user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier. An empty issuer disables the iss check.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify validates the token and returns the identity it names.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return Identity{}, ErrMissingCredential
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredCredential
		}
		return Identity{}, ErrInvalidCredential
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidCredential
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = claims.Subject
	}
	return Identity{UserID: claims.Subject, DisplayName: name}, nil
}

// Sign issues a token for the given user. It exists for local tooling and
// tests; production tokens come from the account service.
func (v *JWTVerifier) Sign(userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
