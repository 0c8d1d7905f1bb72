package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
)

const healthPrefix = "/grpc.health.v1.Health/"

// callLevel logs failed calls at warn and successful health probes at debug.
func callLevel(method string, code string) zerolog.Level {
	switch {
	case code != "OK":
		return zerolog.WarnLevel
	case strings.HasPrefix(method, healthPrefix):
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// UnaryServerInterceptor counts unary calls by method and status code.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err).String()
		m.RecordGRPCCall(info.FullMethod, code)
		logger.WithLevel(callLevel(info.FullMethod, code)).
			Str("method", info.FullMethod).
			Str("code", code).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")
		return resp, err
	}
}

// StreamServerInterceptor tracks open streams (health Watch) and counts them
// by method and status code when they end.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		m.RecordGRPCStreamStart()
		defer m.RecordGRPCStreamEnd()

		err := handler(srv, ss)

		code := status.Code(err).String()
		m.RecordGRPCCall(info.FullMethod, code)
		logger.WithLevel(callLevel(info.FullMethod, code)).
			Str("method", info.FullMethod).
			Str("code", code).
			Dur("duration", time.Since(start)).
			Msg("gRPC stream ended")
		return err
	}
}
