package middleware

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pkgerrors "github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/infrastructure/metrics"
)

type fakeServerStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent []interface{}
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func (s *fakeServerStream) SendMsg(m interface{}) error {
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeServerStream) RecvMsg(m interface{}) error { return nil }

type recordingCollector struct {
	mu         sync.Mutex
	counters   map[string]int
	histograms map[string]int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{counters: map[string]int{}, histograms: map[string]int{}}
}

func (c *recordingCollector) key(name string, labels []string) string {
	var b bytes.Buffer
	b.WriteString(name)
	for _, l := range labels {
		b.WriteString("|" + l)
	}
	return b.String()
}

func (c *recordingCollector) IncrementCounter(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)]++
}

func (c *recordingCollector) RecordHistogram(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histograms[c.key(name, labels)]++
}

func (c *recordingCollector) RecordGauge(name string, value float64, labels ...string) {}

func (c *recordingCollector) StartTimer(name string) metrics.Timer {
	return metrics.NewNoOpCollector().StartTimer(name)
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	m := NewRecoveryMiddleware(zerolog.New(&buf))

	t.Run("unary", func(t *testing.T) {
		_, err := m.UnaryInterceptor()(context.Background(), nil,
			&grpc.UnaryServerInfo{FullMethod: "/test/Panic"},
			func(ctx context.Context, req interface{}) (interface{}, error) {
				panic("boom")
			})
		require.Error(t, err)
		assert.Equal(t, codes.Internal, status.Code(err))
		assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.GetCode(pkgerrors.FromStatus(err)))
		assert.NotContains(t, err.Error(), "boom")
		assert.Contains(t, buf.String(), "Panic recovered")
		assert.Contains(t, buf.String(), "boom")
	})

	t.Run("stream", func(t *testing.T) {
		err := m.StreamInterceptor()(nil, &fakeServerStream{ctx: context.Background()},
			&grpc.StreamServerInfo{FullMethod: "/test/PanicStream"},
			func(srv interface{}, ss grpc.ServerStream) error {
				var views map[string]int
				views["q1"]++
				return nil
			})
		assert.Equal(t, codes.Internal, status.Code(err))
		assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.GetCode(pkgerrors.FromStatus(err)))
	})

	t.Run("no panic", func(t *testing.T) {
		resp, err := m.UnaryInterceptor()(context.Background(), nil,
			&grpc.UnaryServerInfo{FullMethod: "/test/OK"},
			func(ctx context.Context, req interface{}) (interface{}, error) {
				return "ok", nil
			})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
	}{
		{"ok", nil, `"level":"info"`},
		{"client mistake", status.Error(codes.InvalidArgument, "bad name"), `"level":"warn"`},
		{"server failure", status.Error(codes.Internal, "disk full"), `"level":"error"`},
		{"plain error", errors.New("unexpected"), `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewLoggingMiddleware(zerolog.New(&buf))

			_, err := m.UnaryInterceptor()(context.Background(), nil,
				&grpc.UnaryServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/GetFlightInfo"},
				func(ctx context.Context, req interface{}) (interface{}, error) {
					return nil, tt.err
				})
			assert.Equal(t, tt.err, err)
			assert.Contains(t, buf.String(), tt.wantLevel)
			assert.Contains(t, buf.String(), "GetFlightInfo")
		})
	}

	t.Run("stream counts messages", func(t *testing.T) {
		var buf bytes.Buffer
		m := NewLoggingMiddleware(zerolog.New(&buf))

		err := m.StreamInterceptor()(nil, &fakeServerStream{ctx: context.Background()},
			&grpc.StreamServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/DoGet"},
			func(srv interface{}, ss grpc.ServerStream) error {
				require.NoError(t, ss.SendMsg("a"))
				require.NoError(t, ss.SendMsg("b"))
				return nil
			})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"messages_sent":2`)
		assert.Contains(t, buf.String(), "Stream request")
	})
}

func TestMetricsMiddleware(t *testing.T) {
	c := newRecordingCollector()
	m := NewMetricsMiddleware(c)

	_, _ = m.UnaryInterceptor()(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/svc/Unary"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.NotFound, "query not found")
		})

	err := m.StreamInterceptor()(nil, &fakeServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/svc/Stream"},
		func(srv interface{}, ss grpc.ServerStream) error {
			return ss.SendMsg("chunk")
		})
	require.NoError(t, err)

	assert.Equal(t, 1, c.counters[RequestsTotal+"|method|/svc/Unary|type|unary|code|NotFound"])
	assert.Equal(t, 1, c.counters[RequestsTotal+"|method|/svc/Stream|type|stream|code|OK"])
	assert.Equal(t, 1, c.counters[StreamMessagesSent+"|method|/svc/Stream"])
	assert.Equal(t, 1, c.histograms[RequestSeconds+"|method|/svc/Unary|type|unary"])
	assert.Equal(t, 1, c.histograms[RequestSeconds+"|method|/svc/Stream|type|stream"])
}
