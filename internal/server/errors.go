package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nainya/cfgstore/pkg/setting"
)

// toStatus maps a domain error to a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var e *setting.Error
	if errors.As(err, &e) {
		code := codes.Internal
		switch e.Kind {
		case setting.KindInvalidArgument:
			code = codes.InvalidArgument
		case setting.KindNotFound:
			code = codes.NotFound
		case setting.KindPreconditionFailed:
			code = codes.FailedPrecondition
		case setting.KindConflict:
			code = codes.Aborted
		}
		return status.Error(code, e.Message)
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus turns a status error back into the domain error it came from,
// so callers can branch with errors.Is on either side of the wire.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	switch st.Code() {
	case codes.InvalidArgument:
		return &setting.Error{Kind: setting.KindInvalidArgument, Message: msg}
	case codes.NotFound:
		return &setting.Error{Kind: setting.KindNotFound, Message: msg}
	case codes.FailedPrecondition:
		return &setting.Error{Kind: setting.KindPreconditionFailed, Message: msg}
	case codes.Aborted:
		return &setting.Error{Kind: setting.KindConflict, Message: msg}
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return err
}
