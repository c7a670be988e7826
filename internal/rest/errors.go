package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nainya/cfgstore/pkg/client"
	"github.com/nainya/cfgstore/pkg/setting"
)

// statusClientClosed is reported when the caller went away mid-request.
const statusClientClosed = 499

// writeError writes err in the error envelope with the status of its kind.
func writeError(c *gin.Context, err error) {
	var e *setting.Error
	switch {
	case errors.As(err, &e):
		if e.Kind == setting.KindNotModified {
			c.Status(http.StatusNotModified)
			return
		}
		writeStatus(c, e.Status(), e.Kind.String(), e.Message)
	case errors.Is(err, context.DeadlineExceeded):
		writeStatus(c, http.StatusGatewayTimeout, "DeadlineExceeded", err.Error())
	case errors.Is(err, context.Canceled):
		writeStatus(c, statusClientClosed, "Canceled", err.Error())
	default:
		writeStatus(c, http.StatusInternalServerError, "Internal", err.Error())
	}
}

func writeStatus(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, client.ErrorBody{
		Error: client.ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: c.GetString(requestIDKey),
			Details:   []string{},
		},
	})
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	writeError(c, setting.InvalidArgument(format, args...))
}
