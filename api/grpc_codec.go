package api

import (
	"encoding/json"
)

// jsonCodec carries gRPC messages as JSON. The task service has no
// generated protobuf types; both ends force this codec.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
