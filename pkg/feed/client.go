package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

// Client errors.
var (
	ErrNotConnected     = errors.New("feed client not connected")
	ErrAlreadyConnected = errors.New("feed client already connected")
	ErrClientClosed     = errors.New("feed client closed")
	ErrStreamClosed     = errors.New("feed stream closed")
)

// ClientConfig holds feed client configuration.
type ClientConfig struct {
	// Endpoint is the server address (host:port).
	Endpoint string

	// Account filters the stream to one chat account; zero subscribes to all.
	Account types.Pubkey

	// UpdateChannelSize is the buffered update channel size.
	UpdateChannelSize int

	// KeepaliveTime is the client keepalive ping interval.
	KeepaliveTime time.Duration

	// KeepaliveTimeout is how long to wait for a keepalive response.
	KeepaliveTimeout time.Duration
}

// DefaultClientConfig returns a default client configuration for the given
// endpoint.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:          endpoint,
		UpdateChannelSize: 256,
		KeepaliveTime:     30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Client receives stored-message updates from a feed server.
type Client struct {
	config ClientConfig

	conn   *grpc.ClientConn
	stream grpc.ClientStream

	updates chan *Update

	connected atomic.Bool
	closed    atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewClient creates a feed client. It does not connect until Connect is
// called.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config:  config,
		updates: make(chan *Update, config.UpdateChannelSize),
	}
}

// Connect dials the server, opens the stream and sends the subscription
// filter. Received updates are delivered on the Updates channel.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.config.KeepaliveTime,
			Timeout:             c.config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	}

	//nolint:staticcheck // Using Dial for compatibility with older gRPC versions
	conn, err := grpc.Dial(c.config.Endpoint, opts...)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to dial feed server: %w", err)
	}
	c.conn = conn

	streamDesc := &grpc.StreamDesc{
		StreamName:    "Subscribe",
		ServerStreams: true,
	}
	stream, err := conn.NewStream(ctx, streamDesc, subscribeMethod)
	if err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("failed to create stream: %w", err)
	}
	c.stream = stream

	req := &SubscribeRequest{Account: c.config.Account}
	if err := stream.SendMsg(&rawMessage{data: EncodeSubscribeRequest(req)}); err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("failed to close send side: %w", err)
	}

	c.connected.Store(true)
	c.wg.Add(1)
	go c.receiveLoop(ctx)

	return nil
}

// receiveLoop reads frames off the stream until it ends.
func (c *Client) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.connected.Store(false)
	defer close(c.updates)

	for {
		var frame rawMessage
		if err := c.stream.RecvMsg(&frame); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			return
		}

		update, err := DecodeUpdate(frame.data)
		if err != nil {
			continue
		}

		select {
		case c.updates <- update:
		case <-ctx.Done():
			return
		}
	}
}

// Updates returns the channel of received updates. It is closed when the
// stream ends or the client is closed.
func (c *Client) Updates() <-chan *Update {
	return c.updates
}

// Connected reports whether the stream is live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close tears down the stream and connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return ErrClientClosed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
