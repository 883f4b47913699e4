package auth

import (
	"net/http"

	apperrors "github.com/hostelhub/notifyrouter/internal/shared/errors"
)

// Role is an API caller role carried in the token
type Role string

const (
	RoleAdmin    Role = "admin"    // Full access
	RoleOperator Role = "operator" // Triage and unroutable review
	RoleWarden   Role = "warden"   // Acknowledges notifications
	RoleManager  Role = "manager"  // Acknowledges escalations
	RoleProducer Role = "producer" // Domain modules submitting events
)

// Permission is an action on the routing API
type Permission string

const (
	PermEventSubmit       Permission = "event.submit"
	PermRouteRead         Permission = "route.read"
	PermEscalationRead    Permission = "escalation.read"
	PermEscalationResolve Permission = "escalation.resolve"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermEventSubmit, PermRouteRead, PermEscalationRead, PermEscalationResolve,
	},
	RoleOperator: {
		PermRouteRead, PermEscalationRead, PermEscalationResolve,
	},
	RoleWarden:   {PermEscalationRead, PermEscalationResolve},
	RoleManager:  {PermRouteRead, PermEscalationRead, PermEscalationResolve},
	RoleProducer: {PermEventSubmit},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Can reports whether any of the user's roles grants perm
func (u *User) Can(perm Permission) bool {
	for _, r := range u.Roles {
		if HasPermission(Role(r), perm) {
			return true
		}
	}
	return false
}

// RequirePermission creates middleware that requires a permission
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, apperrors.Unauthorized("authentication required"))
				return
			}
			if !user.Can(perm) {
				writeError(w, apperrors.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
