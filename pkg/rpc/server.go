package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/distrisearch/distrisearch/api/proto"
	"github.com/distrisearch/distrisearch/pkg/cluster"
	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// HeartbeatFn records a liveness report from a peer, wiring into
// health.Detector.RecordHeartbeat (via pkg/recovery.Service).
type HeartbeatFn func(nodeID string, metadata map[string]string)

// ElectionFn hands a received Bully message to the local election state
// machine, wiring into cluster.Election.HandleMessage.
type ElectionFn func(ctx context.Context, msg cluster.ElectionMessage) error

// TransferFn accepts a batch of documents pushed from sourceNode during a
// rebalance or recovery transfer, returning which IDs it accepted.
type TransferFn func(ctx context.Context, sourceNode, targetNode string, documentIDs []string) (migrated, failed []string)

// ReplicateStoreFn stores doc as a replica originating at sourceNode.
type ReplicateStoreFn func(ctx context.Context, doc *types.Document, sourceNode string) bool

// Handlers bundles the callbacks Server delegates to. Any may be nil, in
// which case the corresponding RPC returns an error.
type Handlers struct {
	Heartbeat HeartbeatFn
	Election  ElectionFn
	Transfer  TransferFn
	Replicate ReplicateStoreFn
}

// Server is the peer-facing grpc listener every distrisearch node runs,
// exposing Heartbeat/Election/Transfer/Replicate over PeerServiceDesc.
// Unlike the teacher's mTLS-secured management API, peer traffic here runs
// without client-cert verification: cluster membership is closed and
// trusted at the network layer, matching spec §6's node-to-node surface
// rather than an externally exposed control plane.
type Server struct {
	handlers Handlers
	grpc     *grpc.Server
	logger   zerolog.Logger

	mu  sync.Mutex
	lis net.Listener
}

// NewServer constructs a peer RPC server. opts are passed through to
// grpc.NewServer, letting callers add TLS or interceptors if the
// deployment needs them.
func NewServer(handlers Handlers, opts ...grpc.ServerOption) *Server {
	s := &Server{
		handlers: handlers,
		logger:   log.WithComponent("rpc-server"),
	}
	s.grpc = grpc.NewServer(opts...)
	RegisterPeerServiceServer(s.grpc, s)
	return s
}

// Start listens on addr and serves until Stop is called or the listener
// fails. It blocks, matching the teacher's api.Server.Start shape.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("peer rpc server listening")
	return s.grpc.Serve(lis)
}

// Addr returns the address the server is bound to, or "" before Start's
// listener is established. Useful in tests that bind to "127.0.0.1:0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *Server) Heartbeat(ctx context.Context, req *proto.HeartbeatRequest) (*proto.HeartbeatResponse, error) {
	if s.handlers.Heartbeat == nil {
		return nil, fmt.Errorf("rpc: heartbeat handler not wired")
	}
	s.handlers.Heartbeat(req.NodeID, req.Metadata)
	return &proto.HeartbeatResponse{NodeID: req.NodeID, Status: "ok"}, nil
}

func (s *Server) Election(ctx context.Context, req *proto.ElectionMessageRequest) (*proto.ElectionMessageResponse, error) {
	if s.handlers.Election == nil {
		return nil, fmt.Errorf("rpc: election handler not wired")
	}
	msg := cluster.ElectionMessage{
		Type:      cluster.ElectionMessageType(req.Type),
		SenderID:  req.SenderID,
		NewMaster: req.NewMaster,
	}
	if err := s.handlers.Election(ctx, msg); err != nil {
		return nil, err
	}
	return &proto.ElectionMessageResponse{}, nil
}

func (s *Server) Transfer(ctx context.Context, req *proto.TransferRequest) (*proto.TransferResponse, error) {
	if s.handlers.Transfer == nil {
		return nil, fmt.Errorf("rpc: transfer handler not wired")
	}
	migrated, failed := s.handlers.Transfer(ctx, req.SourceNode, req.TargetNode, req.DocumentIDs)
	return &proto.TransferResponse{Migrated: migrated, Failed: failed}, nil
}

func (s *Server) Replicate(ctx context.Context, req *proto.ReplicateRequest) (*proto.ReplicateResponse, error) {
	if s.handlers.Replicate == nil {
		return nil, fmt.Errorf("rpc: replicate handler not wired")
	}
	ok := s.handlers.Replicate(ctx, req.Document, req.SourceNode)
	return &proto.ReplicateResponse{Success: ok}, nil
}
