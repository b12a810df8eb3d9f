// Package codec provides the opaque bytes<->value codec the runtime uses
// for entities and events. The runtime never inspects the bytes it stores;
// only a Serializer and the owning Behavior understand them.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/durocore/duro/internal/ferrors"
)

// Serializer converts values to and from opaque bytes. Two independently
// configured instances are threaded through the runtime: one for entities,
// one for events.
type Serializer interface {
	// Serialize produces the bytes to persist for v.
	Serialize(v any) ([]byte, error)

	// Deserialize parses data back into a value of the Go type registered
	// for class. Returns a SerializationError if class was never
	// registered or the bytes don't parse.
	Deserialize(class string, data []byte) (any, error)
}

// Factory produces a zero-value pointer for a registered class, e.g.
// func() any { return new(Basket) }. Deserialize unmarshals into it and
// returns the pointer.
type Factory func() any

// JSONSerializer is the default Serializer, backed by encoding/json. It
// requires each concrete Go type to be registered under the class name it
// will be deserialized as, since JSON alone carries no type information.
type JSONSerializer struct {
	types map[string]Factory
}

// NewJSONSerializer returns an empty JSONSerializer. Register types with
// Register before first use.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{types: make(map[string]Factory)}
}

// Register associates a class name with a factory producing the Go type to
// deserialize into. Calling Register twice for the same class overwrites
// the previous factory.
func (s *JSONSerializer) Register(class string, f Factory) {
	s.types[class] = f
}

// Serialize marshals v to JSON.
func (s *JSONSerializer) Serialize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &ferrors.SerializationError{Class: fmt.Sprintf("%T", v), Err: err}
	}
	return b, nil
}

// Deserialize unmarshals data into the Go type registered for class.
func (s *JSONSerializer) Deserialize(class string, data []byte) (any, error) {
	factory, ok := s.types[class]
	if !ok {
		return nil, &ferrors.SerializationError{Class: class, Err: fmt.Errorf("no type registered")}
	}
	target := factory()
	if err := json.Unmarshal(data, target); err != nil {
		return nil, &ferrors.SerializationError{Class: class, Err: err}
	}
	return target, nil
}
