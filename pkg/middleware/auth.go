package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim required on admin routes.
const RoleAdmin = "admin"

type adminKey struct{}

// Claims is the token body issued by the auth service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseAdminToken verifies an HS256 bearer token and returns the admin id from its subject.
func ParseAdminToken(secret []byte, raw string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Role != RoleAdmin {
		return "", errors.New("token does not carry the admin role")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// RequireAdmin rejects requests without a valid admin bearer token.
func RequireAdmin(secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				http.Error(w, "Missing bearer token", http.StatusUnauthorized)
				return
			}
			adminID, err := ParseAdminToken(secret, raw)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdminID(r.Context(), adminID)))
		})
	}
}

// WithAdminID stores the authenticated admin id on ctx.
func WithAdminID(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminKey{}, adminID)
}

// AdminID returns the authenticated admin id, or "" outside admin routes.
func AdminID(ctx context.Context) string {
	id, _ := ctx.Value(adminKey{}).(string)
	return id
}
