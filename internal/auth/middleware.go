package auth

import (
	"context"
	"errors"
	"strings"

	"tenant-platform/internal/apperr"
	"tenant-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// ErrUnauthenticated marks a token that does not name a live principal.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// CallerResolver maps a bearer token to a principal ID. Bad tokens and
// unknown principals return an error wrapping ErrUnauthenticated; any other
// error means the resolver itself failed.
type CallerResolver interface {
	CallerIdentity(ctx context.Context, token string) (string, error)
}

// BearerToken extracts the raw token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	raw := strings.TrimSpace(header)
	if !strings.HasPrefix(raw, bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	return tok, tok != ""
}

// RequireCaller resolves the bearer token through the identity directory and
// puts the principal ID in the request context. Authorization belongs to the
// policy engine.
func RequireCaller(r CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := BearerToken(c.GetHeader(authorizationHeader))
		if !ok {
			apperr.Abort(c, apperr.Unauthorized("missing bearer token"))
			return
		}
		id, err := r.CallerIdentity(c.Request.Context(), tok)
		switch {
		case errors.Is(err, ErrUnauthenticated):
			apperr.Abort(c, apperr.Unauthorized("invalid token"))
			return
		case err != nil:
			apperr.Abort(c, apperr.Unavailable("identity directory", err))
			return
		}

		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), id))
		logger.Attach(c, logger.FromGin(c).With("principal_id", id))
		c.Set("principal_id", id)

		c.Next()
	}
}
