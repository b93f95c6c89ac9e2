// Package observability provides gRPC interceptors, HTTP middleware and the
// metrics/health HTTP server.
package observability

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lguibr/Mimeflow/internal/observability/metrics"
)

// SessionScoped is implemented by requests addressed to one session.
type SessionScoped interface {
	SessionKey() string
}

// UnaryServerInterceptor records request metrics, logs every call and turns
// handler panics into codes.Internal.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Str("method", info.FullMethod).
					Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}

			duration := time.Since(start)
			code := status.Code(err)
			m.RecordRequest("grpc", info.FullMethod, code.String(), duration.Seconds())

			ev := log.Debug()
			switch code {
			case codes.OK:
			case codes.Internal, codes.Unknown:
				ev = log.Error().Err(err)
			default:
				ev = log.Info().Err(err)
			}
			withSession(ev, req).
				Str("method", info.FullMethod).
				Str("code", code.String()).
				Dur("duration", duration).
				Msg("gRPC unary call")
		}()

		return handler(ctx, req)
	}
}

// StreamServerInterceptor tracks active streams and the number of messages
// each stream received and sent.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()
		m.RecordStreamStart()
		cs := &countingStream{ServerStream: ss}

		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Str("method", info.FullMethod).
					Msg("gRPC stream handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}

			duration := time.Since(start)
			success := err == nil
			m.RecordStreamEnd(success, duration.Seconds())

			log.Info().
				Str("method", info.FullMethod).
				Str("code", status.Code(err).String()).
				Dur("duration", duration).
				Int("received", cs.received).
				Int("sent", cs.sent).
				Bool("success", success).
				Msg("gRPC stream completed")
		}()

		return handler(srv, cs)
	}
}

// countingStream counts messages; each counter is touched by one goroutine.
type countingStream struct {
	grpc.ServerStream
	received int
	sent     int
}

func (s *countingStream) RecvMsg(m interface{}) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.received++
	}
	return err
}

func (s *countingStream) SendMsg(m interface{}) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.sent++
	}
	return err
}

func withSession(ev *zerolog.Event, req interface{}) *zerolog.Event {
	if r, ok := req.(SessionScoped); ok {
		if id := r.SessionKey(); id != "" {
			return ev.Str("sessionId", id)
		}
	}
	return ev
}
