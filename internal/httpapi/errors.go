package httpapi

import (
	"tenant-platform/internal/apperr"

	"github.com/gin-gonic/gin"
)

// writeResult renders a successful payload, or a committed payload whose
// audit append failed, as 207 with both parts.
func writeResult(c *gin.Context, status int, result any, err error) {
	if err == nil {
		c.JSON(status, result)
		return
	}
	e := apperr.As(err)
	apperr.Log(c, e)
	c.JSON(e.HTTPStatus(), gin.H{"result": result, "error": e.Body()})
}

// committed reports whether err still leaves a result worth returning.
func committed(err error) bool {
	return err == nil || apperr.KindOf(err) == apperr.KindAuditWriteFailed
}
