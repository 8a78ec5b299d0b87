package queue

import (
	"bytes"
	"encoding/gob"

	"github.com/DoNewsCode/core/contract"
)

var _ contract.Codec = gobCodec{}

// gobCodec is the default payload codec. Payload types must have at least
// one exported field.
type gobCodec struct{}

// Marshal serializes the payload to bytes
func (p gobCodec) Marshal(payload interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes the bytes into payload, which must be a pointer.
func (p gobCodec) Unmarshal(data []byte, payload interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(payload)
}
