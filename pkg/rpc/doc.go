// Package rpc is the peer-to-peer transport every distrisearch node uses to
// reach the rest of the cluster: heartbeat (C13), Bully election (C16),
// and the transfer/replicate primitives of spec §6 (C11/C12).
//
// It runs over real google.golang.org/grpc rather than hand-rolled
// framing, but carries plain Go structs (api/proto) instead of
// protoc-generated message types. Two things make that work without
// protoc ever running:
//
//   - service.go hand-writes a grpc.ServiceDesc/[]grpc.MethodDesc for
//     PeerServer, in exactly the shape protoc-gen-go emits into a
//     _grpc.pb.go file. grpc-go only needs that descriptor to register
//     and dispatch a service; it does not require the messages
//     themselves to be protobuf-generated types.
//   - codec.go registers a custom encoding.Codec ("json") that marshals
//     those plain structs with encoding/json. The client selects it per
//     call via grpc.CallContentSubtype("json").
//
// This repo's retrieval pack references github.com/cuemby/warren/api/proto
// but does not contain that package's source or any .proto files to
// generate from, and this environment cannot invoke protoc. Rather than
// fabricate fake generated bindings, PeerService is wired through grpc's
// own public low-level registration and codec APIs — the same mechanism
// protoc-gen-go's output relies on — so the real grpc dependency is
// genuinely exercised end to end.
//
// Peer traffic is intra-cluster only and unauthenticated by default
// (NewServer/NewClient accept extra grpc options for callers that want
// TLS), unlike the teacher's mTLS-secured external management API.
package rpc
