package control

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers its codec
// under ("application/grpc+gob" on the wire).
const codecName = "gob"

// gobCodec adapts encoding/gob to grpc's encoding.Codec interface so the
// hand-written ServiceDesc in rpc.go can move plain Go structs
// without a protoc-generated message type.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// Codec returns the registered codec, for callers that need to pass it
// explicitly to grpc.ForceServerCodec / grpc.ForceCodec rather than
// relying on content-subtype negotiation.
func Codec() encoding.Codec { return gobCodec{} }
