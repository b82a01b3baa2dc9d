package httpapi

import (
	"context"

	"tenant-platform/internal/apperr"
	"tenant-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Limiter is satisfied by *utils.ConcurrencyCap.
type Limiter interface {
	Acquire(ctx context.Context, owner string) (bool, error)
	Release(ctx context.Context, owner string) error
}

// RejectObserver is satisfied by *metrics.Metrics.
type RejectObserver interface {
	CapRejected()
}

// LimitInFlight caps concurrent provisioning requests per caller. A nil
// Limiter disables the cap. When the limiter itself fails the request is let
// through: the workflow does not depend on the cap for correctness.
func LimitInFlight(l Limiter, obs RejectObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		owner := caller(c)
		if owner == "" {
			c.Next()
			return
		}

		ok, err := l.Acquire(c.Request.Context(), owner)
		if err != nil {
			logger.FromGin(c).Warn("in-flight cap unavailable", "err", err)
			c.Next()
			return
		}
		if !ok {
			if obs != nil {
				obs.CapRejected()
			}
			apperr.Abort(c, apperr.TooManyRequests("too many provisioning requests in flight"))
			return
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(c.Request.Context()), owner); err != nil {
				logger.FromGin(c).Warn("in-flight release failed", "err", err)
			}
		}()
		c.Next()
	}
}
