package auth

import "context"

type ctxKey string

const identityContextKey ctxKey = "ticklist.auth.identity"

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// UserFromContext returns the signed-in user. Guests have none.
func UserFromContext(ctx context.Context) (User, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.Guest {
		return User{}, false
	}
	return id.User, true
}

// OwnerFromContext is the id task storage is scoped by.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return id.OwnerID, true
}
