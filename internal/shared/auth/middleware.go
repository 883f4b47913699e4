package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hostelhub/notifyrouter/internal/shared/config"
	apperrors "github.com/hostelhub/notifyrouter/internal/shared/errors"
)

type contextKey string

const UserContextKey contextKey = "user"

// User is the API caller. HostelID scopes operators to one tenant; empty
// means the caller may act across hostels.
type User struct {
	ID       string   `json:"sub"`
	HostelID string   `json:"hostel_id,omitempty"`
	Roles    []string `json:"roles"`
}

// Claims carries the caller's tenant and roles alongside the registered claims
type Claims struct {
	jwt.RegisteredClaims
	HostelID string   `json:"hostel_id,omitempty"`
	Roles    []string `json:"roles"`
}

// Middleware authenticates HS256 bearer tokens and stores the caller in the
// request context.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	keyFunc := func(*jwt.Token) (any, error) { return []byte(cfg.JWTSecret), nil }
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, appErr := bearerToken(r)
			if appErr != nil {
				writeError(w, appErr)
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid {
				writeError(w, apperrors.Unauthorized("invalid token"))
				return
			}
			if claims.Subject == "" {
				writeError(w, apperrors.Unauthorized("token has no subject"))
				return
			}

			user := &User{ID: claims.Subject, HostelID: claims.HostelID, Roles: claims.Roles}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(r *http.Request) (string, *apperrors.AppError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperrors.Unauthorized("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", apperrors.Unauthorized("invalid authorization header format")
	}
	return token, nil
}

// WithUser returns a context carrying user
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUser returns the authenticated caller, or nil
func GetUser(ctx context.Context) *User {
	user, _ := ctx.Value(UserContextKey).(*User)
	return user
}

func writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(appErr)
}
