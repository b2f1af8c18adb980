package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/goterm/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = []struct {
	kind error
	code codes.Code
}{
	{common.ErrNotFound, codes.NotFound},
	{common.ErrValidation, codes.InvalidArgument},
	{common.ErrAuthFailed, codes.Unauthenticated},
	{common.ErrTimeout, codes.DeadlineExceeded},
	{common.ErrInvalidState, codes.FailedPrecondition},
	{common.ErrTransport, codes.Unavailable},
}

// toStatus converts a component error into a gRPC status carrying the
// original message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if kind := common.KindOf(err); kind != nil {
		for _, kc := range kindCodes {
			if kc.kind == kind {
				return status.Error(kc.code, err.Error())
			}
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// mapError converts a gRPC status back into an error matching the common
// sentinels, so errors.Is works the same on both sides of the bridge.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", common.ErrTransport, err)
	}
	for _, kc := range kindCodes {
		if kc.code == st.Code() {
			return &remoteError{kind: kc.kind, msg: st.Message()}
		}
	}
	return &remoteError{msg: st.Message(), code: st.Code()}
}

type remoteError struct {
	kind error
	code codes.Code
	msg  string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.kind }

// GRPCStatus keeps status.Code working on mapped errors.
func (e *remoteError) GRPCStatus() *status.Status {
	code := e.code
	for _, kc := range kindCodes {
		if e.kind != nil && kc.kind == e.kind {
			code = kc.code
		}
	}
	return status.New(code, e.msg)
}
