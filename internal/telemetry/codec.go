package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the wire format of published snapshots.
type Encoding string

const (
	JSON    Encoding = "json"
	MsgPack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. The empty string means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", JSON:
		return JSON, nil
	case MsgPack:
		return MsgPack, nil
	}
	return "", fmt.Errorf("telemetry: unknown encoding %q", s)
}

// Marshal encodes v in the given encoding.
func (e Encoding) Marshal(v any) ([]byte, error) {
	switch e {
	case MsgPack:
		return msgpack.Marshal(v)
	default:
		return json.Marshal(v)
	}
}

// Unmarshal decodes data produced by Marshal.
func (e Encoding) Unmarshal(data []byte, v any) error {
	switch e {
	case MsgPack:
		return msgpack.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == MsgPack {
		return "application/msgpack"
	}
	return "application/json"
}
