// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Authentication methods.
const (
	MethodSignature = "signature"
	MethodAdmin     = "admin"
)

// Identity describes who made a request and how they proved it.
type Identity struct {
	Method  string // MethodSignature | MethodAdmin
	Subject string
	Role    string
}

// IsAdmin returns true for host administrators with the admin or owner role.
func (i *Identity) IsAdmin() bool {
	if i == nil || i.Method != MethodAdmin {
		return false
	}
	return isAdminRole(i.Role)
}

func isAdminRole(role string) bool {
	return role == "admin" || role == "owner"
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the Identity in ctx, or nil when unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
