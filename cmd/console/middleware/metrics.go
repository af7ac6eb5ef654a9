package middleware

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/dataherald/console/pkg/infrastructure/metrics"
)

// Metric names reported by MetricsMiddleware.
const (
	RequestsTotal      = "console_grpc_requests_total"
	RequestSeconds     = "console_grpc_request_seconds"
	StreamMessagesSent = "console_grpc_stream_messages_sent_total"
)

// MetricsMiddleware counts and times every call.
type MetricsMiddleware struct {
	collector metrics.Collector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector metrics.Collector) *MetricsMiddleware {
	return &MetricsMiddleware{
		collector: collector,
	}
}

// UnaryInterceptor returns a unary server interceptor for metrics.
func (m *MetricsMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		timer := m.collector.StartTimer("console_grpc_unary")

		resp, err := handler(ctx, req)

		m.collector.RecordHistogram(RequestSeconds, timer.Stop(), "method", info.FullMethod, "type", "unary")
		m.collector.IncrementCounter(RequestsTotal, "method", info.FullMethod, "type", "unary", "code", status.Code(err).String())
		return resp, err
	}
}

// StreamInterceptor returns a stream server interceptor for metrics.
func (m *MetricsMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		timer := m.collector.StartTimer("console_grpc_stream")

		err := handler(srv, &metricsServerStream{
			ServerStream: ss,
			collector:    m.collector,
			method:       info.FullMethod,
		})

		m.collector.RecordHistogram(RequestSeconds, timer.Stop(), "method", info.FullMethod, "type", "stream")
		m.collector.IncrementCounter(RequestsTotal, "method", info.FullMethod, "type", "stream", "code", status.Code(err).String())
		return err
	}
}

// metricsServerStream counts messages sent on a stream.
type metricsServerStream struct {
	grpc.ServerStream
	collector metrics.Collector
	method    string
}

func (s *metricsServerStream) SendMsg(m interface{}) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.collector.IncrementCounter(StreamMessagesSent, "method", s.method)
	}
	return err
}
