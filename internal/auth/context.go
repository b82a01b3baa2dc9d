package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxPrincipalID ctxKey = iota

var ErrNoPrincipal = errors.New("principal_id not in context")

func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, ctxPrincipalID, principalID)
}

func PrincipalID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxPrincipalID).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoPrincipal
}
