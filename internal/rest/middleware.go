package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nainya/cfgstore/internal/logger"
	"github.com/nainya/cfgstore/internal/metrics"
	"github.com/nainya/cfgstore/pkg/client"
)

const requestIDKey = "request_id"

// requestID assigns every request an id, reusing the caller's when present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(client.HeaderRequestID)
		if id == "" {
			id = "req_" + uuid.New().String()[:12]
		}
		c.Set(requestIDKey, id)
		c.Header(client.HeaderRequestID, id)
		c.Next()
	}
}

// observe logs and counts every request by its route pattern.
func observe(log *logger.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if m != nil {
			m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), duration)
		}
		log.LogHTTPRequest(c.Request.Method, c.Request.URL.Path, status, duration, c.GetString(requestIDKey))
	}
}

// recovery turns a handler panic into a 500 error envelope.
func recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("handler panicked")
		writeStatus(c, http.StatusInternalServerError, "Internal", "internal error")
	})
}
