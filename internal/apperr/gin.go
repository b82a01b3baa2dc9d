package apperr

import (
	"net/http"

	"tenant-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Body is the JSON form of an Error. The wrapped cause is never included.
type Body struct {
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	Step        string `json:"step,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
}

func (e *Error) Body() Body {
	return Body{
		Kind:        e.Kind,
		Message:     e.Message,
		Step:        e.Step,
		TenantID:    e.TenantID,
		PrincipalID: e.PrincipalID,
	}
}

// Abort renders err as {"error": body} with the status of its kind and stops
// the handler chain.
func Abort(c *gin.Context, err error) {
	e := As(err)
	Log(c, e)
	c.AbortWithStatusJSON(e.HTTPStatus(), gin.H{"error": e.Body()})
}

// Log writes e to the request logger at a level matching its status.
func Log(c *gin.Context, e *Error) {
	status := e.HTTPStatus()
	l := logger.FromGin(c)
	attrs := []any{"kind", e.Kind, "status", status}
	if e.Step != "" {
		attrs = append(attrs, "step", e.Step, "tenant_id", e.TenantID, "principal_id", e.PrincipalID)
	}
	if e.Err != nil {
		attrs = append(attrs, "err", e.Err)
	}
	switch {
	case status >= http.StatusInternalServerError:
		l.Error("request failed", attrs...)
	case e.Kind == KindPartialProvisioning || e.Kind == KindAuditWriteFailed:
		l.Warn("request incomplete", attrs...)
	default:
		l.Debug("request rejected", attrs...)
	}
}
