// README: Credential verification for REST and websocket connections.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleRider  = "user"
	RoleDriver = "driver"
	RoleAdmin  = "admin"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the identity carried by a verified token.
type Claims struct {
	UserID int64
	Role   string
}

// Verifier checks externally-issued credentials. Token issuing lives in the
// account service; this core only validates signature and expiry.
type Verifier interface {
	Verify(token string) (Claims, error)
}

type jwtVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) Verifier {
	return &jwtVerifier{secret: []byte(secret)}
}

type tokenClaims struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (v *jwtVerifier) Verify(token string) (Claims, error) {
	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || tc.ID == 0 || tc.Role == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{UserID: tc.ID, Role: tc.Role}, nil
}

// Sign issues a token for the given identity. Used by tests and local tooling;
// production tokens come from the account service with the same secret.
func Sign(secret string, userID int64, role string, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		ID:   userID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
