package handler

import (
	"context"

	"github.com/s3compat/server/pkg/metadata"
)

type contextKey int

const userContextKey contextKey = iota

func contextWithUser(ctx context.Context, user metadata.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func userFromContext(ctx context.Context) (metadata.User, bool) {
	user, ok := ctx.Value(userContextKey).(metadata.User)
	return user, ok
}
