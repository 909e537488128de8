package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec uses encoding/gob for serialization.
// Pros: compact binary form, handles nested structs without hand-written framing.
// Cons: Go-only; both ends must agree on the envelope types.
type GobCodec struct{}

func (c *GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *GobCodec) Type() CodecType {
	return CodecTypeGob
}
