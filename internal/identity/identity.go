// Package identity resolves the current user from the held credential.
package identity

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campuslink/chat-sync/internal/model"
)

// ErrInvalidToken is returned when the credential is absent or malformed.
var ErrInvalidToken = errors.New("invalid credential token")

// Identity is the current user, derived once from the credential and
// immutable for the session.
type Identity struct {
	ID   int64
	Name string
	Role model.Role
}

// Claims is the credential payload this client cares about. The token is
// issued and verified by the portal backend; the client only decodes it to
// attribute message direction, so no signature check happens here.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// Resolve decodes the credential payload locally and returns the session
// identity. No network roundtrip is involved.
func Resolve(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: non-numeric subject %q", ErrInvalidToken, claims.Subject)
	}

	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return Identity{
		ID:   id,
		Name: claims.Name,
		Role: role,
	}, nil
}
