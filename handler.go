package queue

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

// envelope is the wire form of a handler. Data holds the payload encoded by
// the backend's codec; json renders it as base64 so that any codec output is
// a valid SQS message body.
type envelope struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

func (b *Backend) marshalHandler(p Payload) (string, error) {
	b.registry.Register(p)
	data, err := b.codec.Marshal(p)
	if err != nil {
		return "", errors.Wrapf(err, "serialize payload %s failed", TypeName(p))
	}
	body, err := json.Marshal(envelope{Type: TypeName(p), Data: data})
	if err != nil {
		return "", errors.Wrapf(err, "serialize payload %s failed", TypeName(p))
	}
	return string(body), nil
}

func (b *Backend) unmarshalHandler(handler string) (Payload, error) {
	var env envelope
	if err := json.Unmarshal([]byte(handler), &env); err != nil {
		return nil, errors.Wrapf(ErrDeserialization, "malformed handler: %s", err)
	}
	reg, ok := b.registry.lookup(env.Type)
	if !ok {
		return nil, errors.Wrapf(ErrDeserialization, "payload type %q is not registered", env.Type)
	}
	ptr := reflect.New(reg.rType)
	if err := b.codec.Unmarshal(env.Data, ptr.Interface()); err != nil {
		return nil, errors.Wrapf(ErrDeserialization, "decode %s: %s", env.Type, err)
	}
	value := ptr
	if !reg.pointer {
		value = ptr.Elem()
	}
	p, ok := value.Interface().(Payload)
	if !ok {
		return nil, errors.Wrapf(ErrDeserialization, "%s does not implement Payload", env.Type)
	}
	return p, nil
}
