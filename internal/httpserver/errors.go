package httpserver

import (
	"net/http"

	"cartservice/internal/domain"
	"cartservice/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindUserNotFound, domain.KindProductNotFound, domain.KindCartNotFound:
		return http.StatusNotFound
	case domain.KindInvalidQuantity:
		return http.StatusBadRequest
	case domain.KindInsufficientStock:
		return http.StatusConflict
	case domain.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends the stable code of err. Server-side causes are logged
// and never sent.
func writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", zap.String("code", string(kind)), zap.Error(err))
	}
	c.JSON(status, errorBody{Code: string(kind), Message: domain.PublicMessage(err)})
}
