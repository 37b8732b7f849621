// Package identity verifies tokens issued by the identity service and carries
// the resulting Actor through request contexts. Signup, login and token
// issuance live outside this repository; Issue exists for tooling and tests.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// System is the actor used by background jobs.
var System = Actor{Role: RoleSystem}

// Is reports whether the actor is the given principal or is privileged.
func (a Actor) Is(id uuid.UUID) bool {
	return a.ID == id || a.Privileged()
}

func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid token")

// Verifier checks HS256 tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenStr string) (Actor, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return Actor{}, ErrInvalidToken
	}

	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}
	switch c.Role {
	case RoleDoctor, RolePatient, RoleAdmin:
	default:
		return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return Actor{ID: id, Role: c.Role}, nil
}

// Issue signs a token for actor. Only seeders, simulators and tests use it.
func Issue(secret string, actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
