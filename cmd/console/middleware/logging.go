package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingMiddleware provides request logging middleware.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger,
	}
}

// event picks the level for a finished call. Client-side mistakes are not
// server errors.
func (m *LoggingMiddleware) event(err error) *zerolog.Event {
	switch status.Code(err) {
	case codes.OK, codes.Canceled:
		return m.logger.Info()
	case codes.InvalidArgument, codes.NotFound, codes.Unauthenticated, codes.PermissionDenied, codes.AlreadyExists:
		return m.logger.Warn().Err(err)
	default:
		return m.logger.Error().Err(err)
	}
}

// UnaryInterceptor returns a unary server interceptor for logging.
func (m *LoggingMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		m.event(err).
			Str("method", info.FullMethod).
			Str("user", AuthenticatedUser(ctx)).
			Dur("duration", time.Since(start)).
			Str("code", status.Code(err).String()).
			Msg("Unary request")

		return resp, err
	}
}

// StreamInterceptor returns a stream server interceptor for logging.
func (m *LoggingMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()

		wrappedStream := &loggingServerStream{ServerStream: ss}

		err := handler(srv, wrappedStream)

		m.event(err).
			Str("method", info.FullMethod).
			Str("user", AuthenticatedUser(wrappedStream.Context())).
			Dur("duration", time.Since(start)).
			Str("code", status.Code(err).String()).
			Int("messages_sent", wrappedStream.messagesSent).
			Int("messages_received", wrappedStream.messagesReceived).
			Msg("Stream request")

		return err
	}
}

// loggingServerStream wraps a ServerStream to track message counts.
type loggingServerStream struct {
	grpc.ServerStream
	messagesSent     int
	messagesReceived int
}

func (s *loggingServerStream) SendMsg(m interface{}) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.messagesSent++
	}
	return err
}

func (s *loggingServerStream) RecvMsg(m interface{}) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.messagesReceived++
	}
	return err
}
