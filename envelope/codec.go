package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/status"
)

// Codec defines the serialization contract for envelopes on the wire.
type Codec interface {
	// Marshal serializes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes data into v.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec names accepted by GetCodec.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// GetCodec returns the codec for name. An empty name selects JSON; unknown
// names are an error.
func GetCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case CodecJSON, "":
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("envelope: unknown codec %q", name)
	}
}

// JSONCodec is the default wire codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return CodecJSON }

// MsgpackCodec encodes the same field names as JSONCodec. Payload structs
// without msgpack tags fall back to their json tags.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (MsgpackCodec) Name() string { return CodecMsgpack }

// wire is the serialized shape of an envelope.
type wire[T any] struct {
	CorrelationID *string `json:"correlation_id" msgpack:"correlation_id"`
	Data          *T      `json:"data" msgpack:"data"`
	Status        string  `json:"status,omitempty" msgpack:"status,omitempty"`
}

// Encode serializes env with codec.
func Encode[T any](codec Codec, env *Envelope[T]) ([]byte, error) {
	id := env.CorrelationID().String()
	data, err := codec.Marshal(wire[T]{
		CorrelationID: &id,
		Data:          env.Data(),
		Status:        env.Status().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode envelope: %v", conduit.ErrSerialization, err)
	}
	return data, nil
}

// Decode deserializes data into an envelope. A missing correlation id is
// replaced by a fresh one and a missing status defaults to Received.
// Anything but a map at the top level is rejected. Failures wrap
// conduit.ErrSerialization.
func Decode[T any](codec Codec, data []byte) (*Envelope[T], error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", conduit.ErrSerialization)
	}
	var w *wire[T]
	if err := codec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", conduit.ErrSerialization, err)
	}
	if w == nil {
		return nil, fmt.Errorf("%w: message is not an object", conduit.ErrSerialization)
	}
	st, err := status.Parse(w.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", conduit.ErrSerialization, err)
	}
	id := correlation.None
	if w.CorrelationID != nil {
		id = correlation.ID(*w.CorrelationID)
	}
	return Restore(id, w.Data, st), nil
}
