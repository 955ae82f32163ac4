package feed

import (
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Server errors.
var (
	ErrServerClosed = errors.New("feed server closed")
)

// Method and service names of the stream.
const (
	serviceName     = "chatfeed.Feed"
	subscribeMethod = "/chatfeed.Feed/Subscribe"
)

// ServerConfig holds feed server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// SubscriberBuffer is the per-subscriber channel size. When a subscriber
	// falls behind, its oldest buffered update is dropped.
	SubscriberBuffer int

	// KeepaliveTime is the server keepalive ping interval.
	KeepaliveTime time.Duration
}

// DefaultServerConfig returns a default feed server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":10799",
		SubscriberBuffer: 256,
		KeepaliveTime:    30 * time.Second,
	}
}

// Server streams stored-message updates to gRPC subscribers.
type Server struct {
	config ServerConfig

	grpcServer *grpc.Server

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// subscriber is one active Subscribe stream.
type subscriber struct {
	filter  SubscribeRequest
	updates chan *Update
}

// NewServer creates a feed server.
func NewServer(config ServerConfig) *Server {
	s := &Server{
		config:      config,
		subscribers: make(map[*subscriber]struct{}),
	}

	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time: config.KeepaliveTime,
		}),
	)
	s.grpcServer.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Subscribe",
				Handler:       s.handleSubscribe,
				ServerStreams: true,
			},
		},
	}, s)

	return s
}

// Start listens on the configured address and serves until Stop is called.
// It blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.grpcServer.Serve(listener)
}

// Stop drains subscribers and stops the gRPC server.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	for sub := range s.subscribers {
		close(sub.updates)
		delete(s.subscribers, sub)
	}
	s.mu.Unlock()

	s.grpcServer.GracefulStop()
}

// Publish fans an update out to every matching subscriber. Slow subscribers
// lose their oldest buffered update rather than blocking the publisher.
func (s *Server) Publish(u *Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for sub := range s.subscribers {
		if !sub.filter.Matches(u) {
			continue
		}
		select {
		case sub.updates <- u:
		default:
			select {
			case <-sub.updates:
			default:
			}
			sub.updates <- u
		}
	}
}

// SubscriberCount returns the number of active streams.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// handleSubscribe runs one Subscribe stream: read the filter frame, then
// forward updates until the client goes away or the server stops.
func (s *Server) handleSubscribe(srv interface{}, stream grpc.ServerStream) error {
	var reqFrame rawMessage
	if err := stream.RecvMsg(&reqFrame); err != nil {
		return err
	}
	req, err := DecodeSubscribeRequest(reqFrame.data)
	if err != nil {
		return err
	}

	sub := &subscriber{
		filter:  *req,
		updates: make(chan *Update, s.config.SubscriberBuffer),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case u, ok := <-sub.updates:
			if !ok {
				return ErrServerClosed
			}
			frame, err := EncodeUpdate(u)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(&rawMessage{data: frame}); err != nil {
				return err
			}
		}
	}
}
