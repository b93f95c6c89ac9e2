// Package grpcapi exposes sessions over gRPC: unary session management and a
// bidirectional frame stream that answers with score ticks. Messages use the
// JSON codec registered under CodecName.
package grpcapi

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/observability/logging"
	"github.com/lguibr/Mimeflow/internal/service/estimator"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

// Full method names of ScoringService.
const (
	ServiceName         = "mimeflow.v1.ScoringService"
	MethodCreateSession = "/" + ServiceName + "/CreateSession"
	MethodControl       = "/" + ServiceName + "/Control"
	MethodGetSnapshot   = "/" + ServiceName + "/GetSnapshot"
	MethodStreamFrames  = "/" + ServiceName + "/StreamFrames"
)

// ScoringServer is the server API for ScoringService.
type ScoringServer interface {
	CreateSession(context.Context, *CreateSessionRequest) (*models.SessionSnapshot, error)
	Control(context.Context, *ControlRequest) (*ControlResponse, error)
	GetSnapshot(context.Context, *SessionRequest) (*models.SessionSnapshot, error)
	StreamFrames(FramesServer) error
}

// FramesServer is the server side of StreamFrames.
type FramesServer interface {
	Send(*StreamEvent) error
	Recv() (*models.FrameMessage, error)
	grpc.ServerStream
}

// Server implements ScoringServer on top of a session registry.
type Server struct {
	registry *session.Registry
	base     session.Options
	factory  estimator.Factory
	provider string
	log      zerolog.Logger
}

// NewServer creates a server whose sessions start from base. factory may be
// nil, in which case sessions can only be fed by clients.
func NewServer(registry *session.Registry, base session.Options, factory estimator.Factory) *Server {
	return &Server{
		registry: registry,
		base:     base,
		factory:  factory,
		log:      logging.WithComponent("grpc"),
	}
}

// WithDefaultProvider sets the estimator used when a request names none.
func (s *Server) WithDefaultProvider(provider string) *Server {
	s.provider = provider
	return s
}

// Register registers the scoring service on g.
func Register(g *grpc.Server, s ScoringServer) {
	g.RegisterService(&ServiceDesc, s)
}

// CreateSession opens a session and optionally attaches an estimator.
func (s *Server) CreateSession(ctx context.Context, req *CreateSessionRequest) (*models.SessionSnapshot, error) {
	provider := req.Estimator
	if provider == "" {
		provider = s.provider
	}
	// The estimator outlives the request.
	sess, err := s.registry.Launch(context.WithoutCancel(ctx), s.base, req.Overrides, s.factory, provider, req.AutoStart)
	if err != nil {
		return nil, toStatus(err)
	}
	s.log.Info().
		Str("sessionId", sess.ID()).
		Str("clipId", req.ClipID).
		Str("estimator", provider).
		Msg("Session created")
	snap := sess.Snapshot()
	return &snap, nil
}

// Control applies a lifecycle action.
func (s *Server) Control(ctx context.Context, req *ControlRequest) (*ControlResponse, error) {
	sess, err := s.registry.Get(req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	action, err := session.ParseAction(req.Action)
	if err != nil {
		return nil, toStatus(err)
	}
	rec, err := sess.Control(ctx, action)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ControlResponse{Snapshot: sess.Snapshot(), Record: rec}, nil
}

// GetSnapshot returns the current view of a session.
func (s *Server) GetSnapshot(ctx context.Context, req *SessionRequest) (*models.SessionSnapshot, error) {
	sess, err := s.registry.Get(req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	snap := sess.Snapshot()
	return &snap, nil
}

// StreamFrames ingests frames until the client closes its side. The first
// frame must carry a sessionId; later frames inherit it unless they set their own.
func (s *Server) StreamFrames(stream FramesServer) error {
	var bound string
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		id := msg.SessionID
		if id == "" {
			id = bound
		}
		if id == "" {
			return status.Error(codes.InvalidArgument, "first frame must carry a sessionId")
		}
		bound = id

		tick, err := s.registry.Ingest(id, msg)
		var ev *StreamEvent
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			return toStatus(err)
		case err != nil:
			streamLog := logging.WithStream(id, msg.Stream)
			streamLog.Debug().Err(err).Int64("sequence", msg.Sequence).Msg("Frame rejected")
			ev = &StreamEvent{Type: EventError, Sequence: msg.Sequence, Error: err.Error()}
		case tick != nil:
			ev = &StreamEvent{Type: EventTick, Sequence: msg.Sequence, Tick: tick}
		}
		if ev == nil {
			continue
		}
		if err := stream.Send(ev); err != nil {
			return err
		}
	}
}

// toStatus maps session errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case session.IsClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case session.IsConflict(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ServiceDesc describes ScoringService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScoringServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: createSessionHandler},
		{MethodName: "Control", Handler: controlHandler},
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mimeflow/v1/scoring.proto",
}

func createSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScoringServer).CreateSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCreateSession}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScoringServer).CreateSession(ctx, req.(*CreateSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ControlRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScoringServer).Control(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodControl}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScoringServer).Control(ctx, req.(*ControlRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScoringServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetSnapshot}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScoringServer).GetSnapshot(ctx, req.(*SessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ScoringServer).StreamFrames(&framesServer{stream})
}

type framesServer struct {
	grpc.ServerStream
}

func (x *framesServer) Send(ev *StreamEvent) error {
	return x.ServerStream.SendMsg(ev)
}

func (x *framesServer) Recv() (*models.FrameMessage, error) {
	m := new(models.FrameMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
