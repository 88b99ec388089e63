package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Websocket subprotocol names used to negotiate the codec.
const (
	SubprotocolJSON = "liveregion.json"
	SubprotocolCBOR = "liveregion.cbor"
)

// Codec turns channel/payload pairs into websocket frames and back.
type Codec interface {
	// Name is the websocket subprotocol that selects this codec.
	Name() string
	// MessageType is the websocket frame type (text or binary).
	MessageType() int
	Encode(channel Channel, payload interface{}) ([]byte, error)
	Decode(data []byte) (Frame, error)
	unmarshal(data []byte, v interface{}) error
}

// Frame is a decoded envelope whose payload is bound lazily, once the channel
// tells the receiver which type to expect.
type Frame struct {
	Channel Channel
	payload []byte
	codec   Codec
}

// Bind decodes the payload into v.
func (f Frame) Bind(v interface{}) error {
	if len(f.payload) == 0 {
		return fmt.Errorf("%s: empty payload", f.Channel)
	}
	if err := f.codec.unmarshal(f.payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", f.Channel, err)
	}
	return nil
}

// Size is the encoded payload size in bytes.
func (f Frame) Size() int { return len(f.payload) }

// JSON is the default codec, using text frames.
var JSON Codec = jsonCodec{}

// CBOR is the binary codec.
var CBOR Codec = cborCodec{}

// Codecs lists the supported codecs in server preference order.
var Codecs = []Codec{JSON, CBOR}

// Subprotocols returns the subprotocol names of codecs in order.
func Subprotocols(codecs ...Codec) []string {
	names := make([]string, 0, len(codecs))
	for _, c := range codecs {
		names = append(names, c.Name())
	}
	return names
}

// CodecFor resolves a negotiated subprotocol. An empty name means JSON.
func CodecFor(subprotocol string) (Codec, error) {
	if subprotocol == "" {
		return JSON, nil
	}
	for _, c := range Codecs {
		if c.Name() == subprotocol {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unsupported subprotocol %q", subprotocol)
}

type jsonEnvelope struct {
	Channel Channel         `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return SubprotocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(channel Channel, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", channel, err)
	}
	return json.Marshal(jsonEnvelope{Channel: channel, Payload: raw})
}

func (c jsonCodec) Decode(data []byte) (Frame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Channel == "" {
		return Frame{}, fmt.Errorf("decode envelope: message without channel")
	}
	return Frame{Channel: env.Channel, payload: env.Payload, codec: c}, nil
}

func (jsonCodec) unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type cborEnvelope struct {
	Channel Channel         `cbor:"channel"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

type cborCodec struct{}

func (cborCodec) Name() string     { return SubprotocolCBOR }
func (cborCodec) MessageType() int { return websocket.BinaryMessage }

func (cborCodec) Encode(channel Channel, payload interface{}) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", channel, err)
	}
	return cbor.Marshal(cborEnvelope{Channel: channel, Payload: raw})
}

func (c cborCodec) Decode(data []byte) (Frame, error) {
	var env cborEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Channel == "" {
		return Frame{}, fmt.Errorf("decode envelope: message without channel")
	}
	return Frame{Channel: env.Channel, payload: env.Payload, codec: c}, nil
}

func (cborCodec) unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
