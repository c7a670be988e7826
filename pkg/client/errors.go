package client

import (
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/nainya/cfgstore/pkg/setting"
)

// ResponseError is a non-2xx response decoded from the error envelope.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("cfgstore: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("cfgstore: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Kind maps the status code back to a store error kind.
func (e *ResponseError) Kind() setting.Kind {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return setting.KindInvalidArgument
	case http.StatusNotFound:
		return setting.KindNotFound
	case http.StatusPreconditionFailed:
		return setting.KindPreconditionFailed
	case http.StatusConflict:
		return setting.KindConflict
	}
	return 0
}

// Is lets callers match store sentinels such as setting.ErrNotFound.
func (e *ResponseError) Is(target error) bool {
	t, ok := target.(*setting.Error)
	return ok && t.Message == "" && t.Kind != 0 && t.Kind == e.Kind()
}

// check turns a transport failure or an error status into an error.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	out := &ResponseError{StatusCode: resp.StatusCode(), RequestID: resp.Header().Get(HeaderRequestID)}
	if body, ok := resp.Error().(*ErrorBody); ok && body != nil {
		out.Code = body.Error.Code
		out.Message = body.Error.Message
		if body.Error.RequestID != "" {
			out.RequestID = body.Error.RequestID
		}
	}
	return out
}
