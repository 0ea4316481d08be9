package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client dials a control-plane server and issues the four query RPCs
// plus StreamFrames, using the gob codec this package registers.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target (a "unix:///run/supercan/<id>.sock" or
// "host:port" address, per SPEC_FULL.md §6.5).
func Dial(ctx context.Context, target string) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec())),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func (c *Client) GetChannelInfo(ctx context.Context, req *ChannelInfoRequest) (*ChannelInfoResponse, error) {
	resp := new(ChannelInfoResponse)
	if err := c.conn.Invoke(ctx, fullMethod("GetChannelInfo"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ListClients(ctx context.Context, req *ListClientsRequest) (*ListClientsResponse, error) {
	resp := new(ListClientsResponse)
	if err := c.conn.Invoke(ctx, fullMethod("ListClients"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetLeaseStatus(ctx context.Context, req *LeaseStatusRequest) (*LeaseStatusResponse, error) {
	resp := new(LeaseStatusResponse)
	if err := c.conn.Invoke(ctx, fullMethod("GetLeaseStatus"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetStats(ctx context.Context, req *GetStatsRequest) (*GetStatsResponse, error) {
	resp := new(GetStatsResponse)
	if err := c.conn.Invoke(ctx, fullMethod("GetStats"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// FrameStream is the client side of StreamFrames: call Recv in a loop
// until it returns an error (io.EOF on clean server-side completion).
type FrameStream struct {
	stream grpc.ClientStream
}

func (c *Client) StreamFrames(ctx context.Context, req *StreamFramesRequest) (*FrameStream, error) {
	desc := &grpc.StreamDesc{StreamName: "StreamFrames", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod("StreamFrames"), grpc.ForceCodec(Codec()))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameStream{stream: stream}, nil
}

func (f *FrameStream) Recv() (*FrameEvent, error) {
	ev := new(FrameEvent)
	if err := f.stream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
