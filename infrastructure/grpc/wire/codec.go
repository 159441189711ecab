// Package wire carries the JSON envelope over gRPC without generated stubs.
package wire

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	CodecName     = "json"
	ServiceName   = "connect.v1.ConnectService"
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// ConnectStream describes the bidirectional Connect call for both sides.
var ConnectStream = grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// Frame is one envelope, already encoded.
type Frame struct {
	Data []byte
}

// Codec passes frames through untouched and falls back to JSON for anything else.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	if f, ok := v.(*Frame); ok {
		return f.Data, nil
	}
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if f, ok := v.(*Frame); ok {
		f.Data = append(f.Data[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(Codec{})
}
