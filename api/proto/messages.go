// Package proto defines the peer-RPC wire messages exchanged between
// distrisearch nodes: heartbeat, Bully election, and the transfer/replicate
// primitives of spec §6. Messages are plain Go structs carried over grpc
// using pkg/rpc's JSON codec rather than protoc-generated bindings — see
// pkg/rpc's package doc for why.
package proto

import "github.com/distrisearch/distrisearch/pkg/types"

// HeartbeatRequest reports the sender's liveness to a peer.
type HeartbeatRequest struct {
	NodeID   string
	Metadata map[string]string
}

// HeartbeatResponse acknowledges a heartbeat, echoing the NodeID the
// caller sent in its HeartbeatRequest.
type HeartbeatResponse struct {
	NodeID string
	Status string
}

// ElectionMessageRequest carries one Bully election protocol message.
type ElectionMessageRequest struct {
	Type      string
	SenderID  string
	NewMaster string
}

// ElectionMessageResponse is an empty acknowledgement; election messages
// are otherwise one-way.
type ElectionMessageResponse struct{}

// TransferRequest asks the receiver to accept documentIDs from sourceNode.
// Matches spec §6's transfer primitive.
type TransferRequest struct {
	SourceNode  string
	TargetNode  string
	DocumentIDs []string
}

// TransferResponse reports which documents migrated and which failed.
type TransferResponse struct {
	Migrated []string
	Failed   []string
}

// ReplicateRequest asks the receiver to store doc as a replica. Matches
// spec §6's replicate primitive.
type ReplicateRequest struct {
	Document   *types.Document
	SourceNode string
	TargetNode string
}

// ReplicateResponse reports whether the replica was stored.
type ReplicateResponse struct {
	Success bool
}
