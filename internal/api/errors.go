package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"maichart/internal/logging"
	"maichart/internal/services"
)

// statusFor maps a services error kind onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch services.Kind(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case services.KindTransient:
		return http.StatusServiceUnavailable
	case services.KindExternal:
		return http.StatusBadGateway
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	case services.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the error body and stops the handler chain. Server
// side failures are logged; client errors are not.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	detail := services.Message(err)
	if status == http.StatusInternalServerError {
		detail = "Internal server error"
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.Request.Context(), s.logger), "request failed", "http_error",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.Kind(err))),
			logging.String("path", c.FullPath()),
			logging.Int("status", status),
		)
	}
	requestID, _ := services.RequestIDFromContext(c.Request.Context())
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:   false,
		Detail:    detail,
		ErrorKind: string(services.Kind(err)),
		RequestID: requestID,
	})
}
