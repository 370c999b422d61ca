package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/apperr"
	"go.uber.org/zap"
)

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidationFailed:
		return http.StatusBadRequest
	case apperr.CodeAuthenticationRequired:
		return http.StatusUnauthorized
	case apperr.CodeAccessDenied:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeTransientGatewayFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ..., "code": ...}. Errors without a
// code are logged and reported generically.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeUnknown {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(statusFor(code), gin.H{
		"error": apperr.PublicMessage(err),
		"code":  code,
	})
}

// pathID parses a positive int64 path parameter, answering 400 on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// page reads limit and offset query parameters. Missing values are zero,
// which the directory turns into defaults.
func page(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if l := c.Query("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return 0, 0, false
		}
	}
	if o := c.Query("offset"); o != "" {
		if offset, err = strconv.Atoi(o); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'offset' parameter"})
			return 0, 0, false
		}
	}
	return limit, offset, true
}
