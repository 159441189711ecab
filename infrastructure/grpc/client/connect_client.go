package client

import (
	"chat-connect/infrastructure/grpc/wire"
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type ConnectClient struct {
	cc grpc.ClientConnInterface
}

func NewConnectClient(cc grpc.ClientConnInterface) *ConnectClient {
	return &ConnectClient{cc: cc}
}

// Connect opens the bidirectional stream, authenticated by token.
// Cancelling ctx ends the stream.
func (c *ConnectClient) Connect(ctx context.Context, token string) (*Stream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	s, err := c.cc.NewStream(ctx, &wire.ConnectStream, wire.ConnectMethod, grpc.CallContentSubtype(wire.CodecName))
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s}, nil
}

// Stream is not safe for concurrent Send or concurrent Recv.
type Stream struct {
	stream grpc.ClientStream
}

func (s *Stream) Send(frame []byte) error {
	return s.stream.SendMsg(&wire.Frame{Data: frame})
}

func (s *Stream) Recv() ([]byte, error) {
	var f wire.Frame
	if err := s.stream.RecvMsg(&f); err != nil {
		return nil, err
	}
	return f.Data, nil
}

func (s *Stream) CloseSend() error {
	return s.stream.CloseSend()
}
