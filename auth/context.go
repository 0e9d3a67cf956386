// Package auth provides request authentication for the portal: API-key
// middleware for the desktop client and JWT sessions for the dashboard.
package auth

import (
	"context"

	"example/aegis-portal/app/models"
)

type ctxKey int

const userKey ctxKey = iota

// WithUser stores the authenticated user in a context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user from a context.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}
