package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/distrisearch/distrisearch/api/proto"
	"github.com/distrisearch/distrisearch/pkg/cluster"
	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// breakerSettings mirrors jordigilh-kubernaut's per-target circuit breaker
// configuration: trip after 3 consecutive failures, half-open after 30s.
func breakerSettings(name string, logger zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("peer", name).Str("from", from.String()).Str("to", to.String()).Msg("peer circuit breaker state change")
		},
	}
}

// Client dials and calls peer nodes' PeerService RPCs, wrapping every
// outbound call in a per-peer circuit breaker so a single flapping peer
// cannot stall the failure detector, election, or replication workers.
type Client struct {
	dialOpts []grpc.DialOption

	mu       sync.Mutex
	conns    map[string]*grpc.ClientConn
	breakers map[string]*gobreaker.CircuitBreaker

	logger zerolog.Logger
}

// NewClient constructs a Client. Extra dial options (e.g. TLS credentials)
// are appended after the defaults (insecure transport, JSON content
// subtype).
func NewClient(dialOpts ...grpc.DialOption) *Client {
	return &Client{
		dialOpts: dialOpts,
		conns:    make(map[string]*grpc.ClientConn),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   log.WithComponent("rpc-client"),
	}
}

// Close tears down all dialed connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}

func (c *Client) connFor(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, c.dialOpts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) breakerFor(addr string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[addr]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(breakerSettings(addr, c.logger))
	c.breakers[addr] = b
	return b
}

// Heartbeat reports this node's liveness to the peer at addr.
func (c *Client) Heartbeat(ctx context.Context, addr, nodeID string, metadata map[string]string) (*proto.HeartbeatResponse, error) {
	conn, err := c.connFor(addr)
	if err != nil {
		return nil, err
	}
	breaker := c.breakerFor(addr)

	result, err := breaker.Execute(func() (interface{}, error) {
		resp := new(proto.HeartbeatResponse)
		req := &proto.HeartbeatRequest{NodeID: nodeID, Metadata: metadata}
		err := conn.Invoke(ctx, "/distrisearch.PeerService/Heartbeat", req, resp, grpc.CallContentSubtype(codecName))
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return result.(*proto.HeartbeatResponse), nil
}

// SendElectionMessage satisfies cluster.PeerSender, delivering a Bully
// protocol message to peerID's address over the breaker-wrapped RPC.
func (c *Client) SendElectionMessage(ctx context.Context, addr string, msg cluster.ElectionMessage) error {
	conn, err := c.connFor(addr)
	if err != nil {
		return err
	}
	breaker := c.breakerFor(addr)

	_, err = breaker.Execute(func() (interface{}, error) {
		resp := new(proto.ElectionMessageResponse)
		req := &proto.ElectionMessageRequest{
			Type:      string(msg.Type),
			SenderID:  msg.SenderID,
			NewMaster: msg.NewMaster,
		}
		err := conn.Invoke(ctx, "/distrisearch.PeerService/Election", req, resp, grpc.CallContentSubtype(codecName))
		return resp, err
	})
	return err
}

// Transfer asks the peer at addr to accept documentIDs migrating from
// sourceNode, matching spec §6's transfer primitive.
func (c *Client) Transfer(ctx context.Context, addr, sourceNode, targetNode string, documentIDs []string) (*proto.TransferResponse, error) {
	conn, err := c.connFor(addr)
	if err != nil {
		return nil, err
	}
	breaker := c.breakerFor(addr)

	result, err := breaker.Execute(func() (interface{}, error) {
		resp := new(proto.TransferResponse)
		req := &proto.TransferRequest{SourceNode: sourceNode, TargetNode: targetNode, DocumentIDs: documentIDs}
		err := conn.Invoke(ctx, "/distrisearch.PeerService/Transfer", req, resp, grpc.CallContentSubtype(codecName))
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return result.(*proto.TransferResponse), nil
}

// Replicate pushes doc to the peer at addr, matching spec §6's replicate
// primitive and satisfying consensus.ReplicateFn and replication.TransferFn
// style injection points at the call site.
func (c *Client) Replicate(ctx context.Context, addr string, doc *types.Document, sourceNode, targetNode string) (bool, error) {
	conn, err := c.connFor(addr)
	if err != nil {
		return false, err
	}
	breaker := c.breakerFor(addr)

	result, err := breaker.Execute(func() (interface{}, error) {
		resp := new(proto.ReplicateResponse)
		req := &proto.ReplicateRequest{Document: doc, SourceNode: sourceNode, TargetNode: targetNode}
		err := conn.Invoke(ctx, "/distrisearch.PeerService/Replicate", req, resp, grpc.CallContentSubtype(codecName))
		return resp, err
	})
	if err != nil {
		return false, err
	}
	return result.(*proto.ReplicateResponse).Success, nil
}
