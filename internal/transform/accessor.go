package transform

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
)

// Field returns the named field of v, which may be a map with string keys, a
// struct (matched by json tag, then by case-insensitive field name) or a
// pointer to either. Nil values count as absent.
func Field(v any, name string) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		x, ok := m[name]
		if !ok || isNil(x) {
			return nil, false
		}
		return x, true
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		keyType := rv.Type().Key()
		if keyType.Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(name).Convert(keyType))
		return valueOf(val)
	case reflect.Struct:
		return valueOf(structField(rv, name))
	default:
		return nil, false
	}
}

// StringField returns the named field when it holds a string.
func StringField(v any, name string) (string, bool) {
	x, ok := Field(v, name)
	if !ok {
		return "", false
	}
	if s, ok := x.(string); ok {
		return s, true
	}
	rv, ok := indirect(reflect.ValueOf(x))
	if ok && rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// IntField returns the named field when it holds a number. Floats are
// truncated, which is what JSON decoding into any produces for counters.
func IntField(v any, name string) (int, bool) {
	x, ok := Field(v, name)
	if !ok {
		return 0, false
	}

	switch n := x.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	}

	rv, ok := indirect(reflect.ValueOf(x))
	if !ok {
		return 0, false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

// SliceOf returns v as []any when it is a slice or array. Strings and byte
// slices are not treated as sequences.
func SliceOf(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case string, []byte:
		return nil, false
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// MapOf returns v as map[string]any when it is a mapping or a struct.
// Structs are converted through their JSON form.
func MapOf(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	case reflect.Struct:
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, false
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

func indirect(rv reflect.Value) (reflect.Value, bool) {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, rv.IsValid()
}

func valueOf(rv reflect.Value) (any, bool) {
	if !rv.IsValid() {
		return nil, false
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil, false
		}
	}
	if !rv.CanInterface() {
		return nil, false
	}
	return rv.Interface(), true
}

func structField(rv reflect.Value, name string) reflect.Value {
	rt := rv.Type()

	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == name {
			return rv.Field(i)
		}
	}

	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		if tag, _, _ := strings.Cut(sf.Tag.Get("json"), ","); tag == "-" {
			continue
		}
		if strings.EqualFold(sf.Name, name) || strings.EqualFold(sf.Name, strings.ReplaceAll(name, "_", "")) {
			return rv.Field(i)
		}
	}

	return reflect.Value{}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
