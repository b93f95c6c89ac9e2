package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lguibr/Mimeflow/internal/models"
)

// Client is a ScoringService client that always selects the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens an insecure connection to target. The caller closes the returned conn.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

// CreateSession opens a session.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest, opts ...grpc.CallOption) (*models.SessionSnapshot, error) {
	out := new(models.SessionSnapshot)
	if err := c.cc.Invoke(ctx, MethodCreateSession, req, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Control applies a lifecycle action.
func (c *Client) Control(ctx context.Context, req *ControlRequest, opts ...grpc.CallOption) (*ControlResponse, error) {
	out := new(ControlResponse)
	if err := c.cc.Invoke(ctx, MethodControl, req, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSnapshot fetches the current view of a session.
func (c *Client) GetSnapshot(ctx context.Context, req *SessionRequest, opts ...grpc.CallOption) (*models.SessionSnapshot, error) {
	out := new(models.SessionSnapshot)
	if err := c.cc.Invoke(ctx, MethodGetSnapshot, req, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamFrames opens the bidirectional frame stream.
func (c *Client) StreamFrames(ctx context.Context, opts ...grpc.CallOption) (*FramesClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodStreamFrames, c.callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &FramesClient{stream}, nil
}

func (c *Client) callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// FramesClient is the client side of StreamFrames.
type FramesClient struct {
	grpc.ClientStream
}

// Send sends one frame.
func (x *FramesClient) Send(m *models.FrameMessage) error {
	return x.ClientStream.SendMsg(m)
}

// Recv receives the next tick or rejection.
func (x *FramesClient) Recv() (*StreamEvent, error) {
	ev := new(StreamEvent)
	if err := x.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
