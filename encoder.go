package adaptq

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Encoder serializes job payloads and results, e.g. for decoding raw
// payloads in Mux or storing outcomes in a journal.
type Encoder interface {
	// Encode serializes a value to bytes.
	Encode(any) ([]byte, error)
	// Decode deserializes bytes to a value.
	Decode([]byte, any) error
}

// JSONEncoder is the default Encoder.
// It uses standard library for encoding and sonic for decoding.
type JSONEncoder struct{}

// Encode serializes a value to JSON using standard library.
func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// decodePayload converts a job payload into T. Payloads that already hold a
// T are returned as is; raw bytes are decoded with enc.
func decodePayload[T any](enc Encoder, payload any) (T, error) {
	var v T
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
		return v, nil
	case nil:
		return v, nil
	case json.RawMessage:
		return v, decodeInto(enc, p, &v)
	case []byte:
		return v, decodeInto(enc, p, &v)
	case string:
		return v, decodeInto(enc, []byte(p), &v)
	default:
		return v, NewError(KindValidation, fmt.Sprintf("payload type %T is not %T", payload, v))
	}
}

func decodeInto(enc Encoder, data []byte, v any) error {
	if err := enc.Decode(data, v); err != nil {
		return Wrap(KindValidation, err)
	}
	return nil
}
