package grpcserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype clients pass via
// grpc.CallContentSubtype to talk to this service.
const CodecName = "json"

// jsonCodec lets the service speak plain JSON over gRPC framing. The
// message types are hand-defined structs, so there are no generated
// protobuf bindings to marshal with.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
