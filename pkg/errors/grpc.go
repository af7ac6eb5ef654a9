package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcCodes = map[string]codes.Code{
	CodeInvalidRequest:      codes.InvalidArgument,
	CodeNotFound:            codes.NotFound,
	CodeAlreadyExists:       codes.AlreadyExists,
	CodeQueryFailed:         codes.Internal,
	CodeConnectionFailed:    codes.Unavailable,
	CodeInternal:            codes.Internal,
	CodeUnavailable:         codes.Unavailable,
	CodeDeadlineExceeded:    codes.DeadlineExceeded,
	CodeCanceled:            codes.Canceled,
	CodeFailedPrecondition:  codes.FailedPrecondition,
	CodeUnimplemented:       codes.Unimplemented,
	CodeUnauthorized:        codes.Unauthenticated,
	CodePermissionDenied:    codes.PermissionDenied,
	CodeKeyGenerationFailed: codes.Internal,
}

// GRPCCode returns the gRPC status code for an error code.
func GRPCCode(code string) codes.Code {
	if c, ok := grpcCodes[code]; ok {
		return c
	}
	return codes.Unknown
}

// ToStatus converts err into a gRPC status error. Errors that already carry
// a status pass through unchanged, context errors map to their gRPC
// counterparts and everything else is classified by its ConsoleError code.
// The code is attached as the status message prefix so that FromStatus can
// recover it on the client.
func ToStatus(err error) error {
	if err == nil {
		return nil
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

	code := GetCode(err)
	return status.Error(GRPCCode(code), code+": "+GetMessage(err))
}

// FromStatus rebuilds a ConsoleError from a gRPC status error produced by
// ToStatus. Other errors are wrapped with a code derived from their gRPC
// status.
func FromStatus(err error) *ConsoleError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return Wrap(err, CodeInternal, err.Error())
	}

	msg := st.Message()
	for code := range grpcCodes {
		prefix := code + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return &ConsoleError{Code: code, Message: msg[len(prefix):], Cause: err}
		}
	}

	code := CodeInternal
	for c, g := range grpcCodes {
		if g == st.Code() && c != CodeQueryFailed && c != CodeKeyGenerationFailed && c != CodeConnectionFailed {
			code = c
			break
		}
	}
	return &ConsoleError{Code: code, Message: msg, Cause: err}
}
