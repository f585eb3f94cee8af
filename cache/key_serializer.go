package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// defaultKeySerializer implements KeySerializer using reflection-based serialization.
// It sorts map keys, walks structs by exported field name, and recurses into slices
// so that structurally-equal arguments always produce the same key.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds a cache key from a function identifier and its arguments.
// Two calls with the same identifier and structurally-equal arguments (regardless
// of map key insertion order) always produce the same key. Arguments that cannot
// be deterministically ordered, such as functions or channels, yield a
// *SerializationError; callers are expected to treat that as a programmer error.
//
// The skip sentinel short-circuits serialization entirely and returns SkipKey.
func (s *defaultKeySerializer) SerializeKey(function string, args ...any) (string, error) {
	for _, arg := range args {
		if IsSkip(arg) {
			return SkipKey, nil
		}
	}

	if len(args) == 0 {
		return function, nil
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, function)

	for _, arg := range args {
		serialized, err := s.serializeValue(arg)
		if err != nil {
			return "", err
		}
		parts = append(parts, serialized)
	}

	return strings.Join(parts, KeySeparator), nil
}

// serializeValue handles individual argument serialization based on type.
func (s *defaultKeySerializer) serializeValue(v any) (string, error) {
	if v == nil {
		return "nil", nil
	}

	rv := reflect.ValueOf(v)
	rt := reflect.TypeOf(v)

	switch rt.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", &SerializationError{Type: rt.String()}
	case reflect.Ptr:
		if rv.IsNil() {
			return "nil", nil
		}
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil", nil
		}
		return s.serializeList("slice", rv)
	case reflect.Array:
		return s.serializeList("array", rv)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil", nil
		}
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv, rt)
	case reflect.Interface:
		if rv.IsNil() {
			return "interface:nil", nil
		}
		return s.serializeValue(rv.Elem().Interface())
	}

	if s.isBasicType(rt.Kind()) {
		return fmt.Sprintf("%v", v), nil
	}

	return s.jsonFallback(v, rt)
}

// serializeList handles slices and arrays recursively.
func (s *defaultKeySerializer) serializeList(label string, rv reflect.Value) (string, error) {
	length := rv.Len()
	parts := make([]string, length)

	for i := 0; i < length; i++ {
		serialized, err := s.serializeValue(rv.Index(i).Interface())
		if err != nil {
			return "", err
		}
		parts[i] = serialized
	}

	return fmt.Sprintf("%s[%d]:{%s}", label, length, strings.Join(parts, ",")), nil
}

// serializeMap handles map serialization with sorted key-value pairs for
// determinism. Insertion order never leaks into the key.
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) (string, error) {
	keys := rv.MapKeys()

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		keyStr, err := s.serializeValue(k.Interface())
		if err != nil {
			return "", err
		}
		valueStr, err := s.serializeValue(rv.MapIndex(k).Interface())
		if err != nil {
			return "", err
		}
		pairs = append(pairs, fmt.Sprintf("%s=%s", keyStr, valueStr))
	}
	sort.Strings(pairs)

	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ",")), nil
}

// serializeStruct handles struct serialization with field names.
// Field declaration order is stable per type, so no sorting is needed.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type) (string, error) {
	numFields := rv.NumField()
	parts := make([]string, 0, numFields)

	for i := 0; i < numFields; i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldValue := rv.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}

		serialized, err := s.serializeValue(fieldValue.Interface())
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s:%s", field.Name, serialized))
	}

	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ",")), nil
}

// isBasicType checks if a kind represents a basic Go type.
func (s *defaultKeySerializer) isBasicType(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

// jsonFallback serializes remaining kinds through JSON. Marshal failures are
// reported as serialization errors rather than folded into an unstable key.
func (s *defaultKeySerializer) jsonFallback(v any, rt reflect.Type) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &SerializationError{Type: rt.String(), cause: err}
	}
	return fmt.Sprintf("json:%s", string(data)), nil
}
