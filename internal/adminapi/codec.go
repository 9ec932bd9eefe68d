package adminapi

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// gobCodec lets the query RPC below run without generated protobuf
// stubs: ListMembers exchanges plain Go structs gob-encodes cleanly,
// and registering a custom codec is the documented way to make a gRPC
// service transport something other than protobuf (see DESIGN.md for
// why this was chosen over writing .proto files for one small RPC).
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return "gob" }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
