package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-session-service/internal/observability/metrics"
)

func TestUnaryServerInterceptor_RecordsCode(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	icpt := UnaryServerInterceptor(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, _ = icpt(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	_, err := icpt(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected handler error passed through, got %v", err)
	}

	if got := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("expected 1 OK call, got %v", got)
	}
	if got := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(info.FullMethod, "NotFound")); got != 1 {
		t.Errorf("expected 1 NotFound call, got %v", got)
	}
}

func TestStreamServerInterceptor_TracksActiveStreams(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	icpt := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := icpt(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		if got := testutil.ToFloat64(m.GRPCStreamsActive); got != 1 {
			t.Errorf("expected 1 active stream inside handler, got %v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(m.GRPCStreamsActive); got != 0 {
		t.Errorf("expected 0 active streams after handler, got %v", got)
	}
	if got := testutil.ToFloat64(m.GRPCStreamsTotal); got != 1 {
		t.Errorf("expected 1 stream total, got %v", got)
	}
}

func TestCallLevel(t *testing.T) {
	tests := []struct {
		method string
		code   string
		want   zerolog.Level
	}{
		{"/grpc.health.v1.Health/Check", "OK", zerolog.DebugLevel},
		{"/grpc.health.v1.Health/Check", "NotFound", zerolog.WarnLevel},
		{"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo", "OK", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := callLevel(tt.method, tt.code); got != tt.want {
			t.Errorf("callLevel(%s, %s) = %s, want %s", tt.method, tt.code, got, tt.want)
		}
	}
}
