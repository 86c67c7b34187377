package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is selected per-call via grpc.CallContentSubtype on the client
// and is the default (only) codec registered on the server, so every
// PeerService call on the wire is JSON rather than protobuf binary.
const codecName = "json"

// jsonCodec implements encoding.Codec over plain Go structs (api/proto),
// standing in for protoc-gen-go's generated proto.Marshal/Unmarshal since
// this module has no .proto files to generate from.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
