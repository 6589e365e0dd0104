package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity extracted from a client's token. Identity
// issuance lives elsewhere; the daemon only consumes it.
type Claims struct {
	IdentityID  string
	DisplayName string
	Role        string
	TenantID    string
}

// ErrUnauthorized covers every token failure mode presented to clients.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticate validates the request's JWT and returns the identity
// claims. Browser WebSocket clients cannot set headers, so the token is
// accepted from the Authorization header or the token query parameter.
func Authenticate(r *http.Request, secret string) (Claims, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return Claims{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unexpected claims", ErrUnauthorized)
	}
	sub, _ := mapClaims["sub"].(string)
	if sub == "" {
		return Claims{}, fmt.Errorf("%w: token missing subject", ErrUnauthorized)
	}
	name, _ := mapClaims["name"].(string)
	role, _ := mapClaims["role"].(string)
	if role == "" {
		role = "customer"
	}
	tenant, _ := mapClaims["tenant"].(string)

	return Claims{
		IdentityID:  sub,
		DisplayName: name,
		Role:        role,
		TenantID:    tenant,
	}, nil
}

func extractToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
