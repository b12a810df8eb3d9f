package codec

import "reflect"

// ClassName derives the registry key for v: the unqualified type name, with
// any pointer indirection stripped. Behaviors register entities and events
// under this name (mirroring the Java teacher's getClass().getName() keying
// of the same equality-and-lookup concern), and the Apply Engine uses it to
// label every outbound signal row with the event type that produced it.
//
// The name is unqualified: two distinct types named the same thing in
// different packages collide in a Serializer's registry. Callers wiring up
// an entity or event Serializer are responsible for keeping registered type
// names unique within one runtime.

func ClassName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// Deref strips one level of pointer indirection from a value a Serializer
// just produced, so a Behavior's type switch can match the same value type
// whether the event arrived freshly constructed in-process (e.g. a
// self-signal) or round-tripped through a queue row and Deserialize (which,
// needing an addressable target for json.Unmarshal, always hands back a
// pointer). A nil pointer passes through unchanged.
func Deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return v
	}
	return rv.Elem().Interface()
}
