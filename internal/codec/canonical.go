package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/durocore/duro/internal/ferrors"
)

// CanonicalJSONSerializer produces RFC 8785-style canonical JSON: object
// keys sorted, strings NFC-normalized, no HTML escaping. Byte-for-byte
// determinism across processes matters here because entity/event bytes
// feed golden-file tests and the round-trip law in spec.md §8 requires
// deserialize(serialize(v)) == v with a stable on-disk representation.
//
// It wraps a JSONSerializer for the type registry and Deserialize (which
// only needs standard json.Unmarshal); Serialize re-encodes canonically.
type CanonicalJSONSerializer struct {
	*JSONSerializer
}

// NewCanonicalJSONSerializer returns an empty CanonicalJSONSerializer.
func NewCanonicalJSONSerializer() *CanonicalJSONSerializer {
	return &CanonicalJSONSerializer{JSONSerializer: NewJSONSerializer()}
}

// Serialize marshals v to standard JSON, then rewrites it canonically.
func (s *CanonicalJSONSerializer) Serialize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &ferrors.SerializationError{Class: fmt.Sprintf("%T", v), Err: err}
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, &ferrors.SerializationError{Class: fmt.Sprintf("%T", v), Err: err}
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return nil, &ferrors.SerializationError{Class: fmt.Sprintf("%T", v), Err: err}
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return writeCanonicalString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString NFC-normalizes s and writes it JSON-quoted without
// HTML escaping, matching RFC 8785.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var enc bytes.Buffer
	e := json.NewEncoder(&enc)
	e.SetEscapeHTML(false)
	if err := e.Encode(normalized); err != nil {
		return err
	}

	out := enc.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	buf.Write(out)
	return nil
}
