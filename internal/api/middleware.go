package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"maichart/internal/logging"
	"maichart/internal/services"
)

const requestIDHeader = "X-Request-ID"

// requestID tags each request with a correlation id, reusing the caller's
// header when present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// requestLogger writes one structured line per request. Health and status
// polls log at debug to keep the log readable.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []logging.Attr{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", status),
			logging.Duration("duration", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		}
		l := logging.WithContext(c.Request.Context(), logger)
		route := c.FullPath()
		switch {
		case status >= 500:
			l.Warn("http request", logging.Args(attrs...)...)
		case route == "/health" || route == "/status/:id":
			l.Debug("http request", logging.Args(attrs...)...)
		default:
			l.Info("http request", logging.Args(attrs...)...)
		}
	}
}
