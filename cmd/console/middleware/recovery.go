package middleware

import (
	"context"
	"runtime/debug"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/dataherald/console/pkg/errors"
)

// RecoveryMiddleware turns a panicking handler into an INTERNAL_ERROR reply
// shaped like every other transport error.
type RecoveryMiddleware struct {
	logger zerolog.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger zerolog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// UnaryInterceptor returns a unary server interceptor for panic recovery.
func (m *RecoveryMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer m.handlePanic(info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for panic recovery.
// Flight DoGet and DoAction are streams, so this is the one that usually
// fires.
func (m *RecoveryMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer m.handlePanic(info.FullMethod, &err)
		return handler(srv, ss)
	}
}

// handlePanic must be deferred directly so that the builtin recover applies to
// the handler's panic.
func (m *RecoveryMiddleware) handlePanic(method string, err *error) {
	r := recover()
	if r == nil {
		return
	}

	m.logger.Error().
		Str("method", method).
		Interface("panic", r).
		Bytes("stack", debug.Stack()).
		Msg("Panic recovered")

	*err = errors.ToStatus(errors.New(errors.CodeInternal, "internal server error").
		WithDetail("method", method))
}
