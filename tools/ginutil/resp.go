package ginutil

import (
	"net/http"

	"PChat/logger"
	"PChat/tools/errs"

	"github.com/gin-gonic/gin"
)

// failBody shapes an error the way clients expect it.
func failBody(err error) (int, gin.H) {
	ce := errs.CodeOf(err)
	if ce == nil {
		return http.StatusInternalServerError, gin.H{"detail": "internal server error"}
	}
	detail := ce.DDetail()
	if detail == "" {
		detail = ce.EMsg()
	}
	return errs.HTTPStatus(err), gin.H{"detail": detail}
}

// Fail writes err as a JSON error response. Server-side failures are
// logged with their full chain, clients only see the detail line.
func Fail(c *gin.Context, err error) {
	status, body := failBody(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[http] %s %s failed: %+v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, body)
}

// AbortFail is Fail plus abort, for middleware.
func AbortFail(c *gin.Context, err error) {
	status, body := failBody(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[http] %s %s failed: %+v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body)
}
