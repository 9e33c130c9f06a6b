package middleware

import (
	"context"

	"github.com/ecobricks/rewards-backend/pkg/auth"
	"github.com/ecobricks/rewards-backend/pkg/enums"
)

type contextKey string

const ctxIdentity contextKey = "identity"

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	if ctx == nil {
		return auth.Identity{}, false
	}
	identity, ok := ctx.Value(ctxIdentity).(auth.Identity)
	return identity, ok
}

func UserIDFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.UserID
}

func RoleFromContext(ctx context.Context) enums.MemberRole {
	identity, _ := IdentityFromContext(ctx)
	return identity.Role
}

// WithIdentity injects the caller identity into the context.
func WithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxIdentity, identity)
}
