// Package serializer converts call arguments and results to and from JSON
// while preserving rich values. Timestamps, geographic points and dates are
// written as tagged objects and revived on the other side:
//
//	{"__type__":"Timestamp","seconds":1700000000,"nanoseconds":0}
//	{"__type__":"GeoPoint","latitude":55.75,"longitude":37.61}
//	{"__type__":"Date","value":"2024-01-02T03:04:05Z"}
//
// Parsed values use the encoding/json generic model (map[string]any, []any,
// float64, string, bool, nil) plus Timestamp, GeoPoint and time.Time.
package serializer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TypeKey is the object key that marks a tagged rich value.
const TypeKey = "__type__"

// Built-in tags.
const (
	TypeTimestamp = "Timestamp"
	TypeGeoPoint  = "GeoPoint"
	TypeDate      = "Date"
)

// DecodeFunc rebuilds a rich value from its tagged object.
type DecodeFunc func(m map[string]any) (any, error)

// Codec parses and serializes payloads. The zero value is not usable; use
// New or Default.
type Codec struct {
	decoders map[string]DecodeFunc
}

// Option configures a Codec.
type Option func(*Codec)

// WithType registers a decoder for an additional tag. Values of the type
// should implement json.Marshaler and emit the same tagged object.
func WithType(tag string, fn DecodeFunc) Option {
	return func(c *Codec) { c.decoders[tag] = fn }
}

// New returns a Codec that understands the built-in tags plus any
// registered with WithType.
func New(opts ...Option) *Codec {
	c := &Codec{decoders: map[string]DecodeFunc{
		TypeTimestamp: decodeTimestamp,
		TypeGeoPoint:  decodeGeoPoint,
		TypeDate:      decodeDate,
	}}
	for _, o := range opts {
		o(c)
	}
	return c
}

var defaultCodec = New()

// Default returns the shared codec with the built-in tags.
func Default() *Codec { return defaultCodec }

// Parse decodes a JSON payload and revives tagged values. Malformed JSON,
// trailing data and malformed tagged objects are errors. Integers beyond the
// exact range of float64 are kept as int64.
func (c *Codec) Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("serializer: decoding payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("serializer: unexpected data after payload")
	}
	return c.Revive(v)
}

// Revive walks a generic JSON value and replaces tagged objects with their
// rich values. Maps and slices are updated in place.
func (c *Codec) Revive(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if tag, ok := x[TypeKey].(string); ok {
			if fn, ok := c.decoders[tag]; ok {
				return fn(x)
			}
		}
		for k, e := range x {
			r, err := c.Revive(e)
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil
	case []any:
		for i, e := range x {
			r, err := c.Revive(e)
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil
	case json.Number:
		return numberValue(x)
	default:
		return v, nil
	}
}

// maxExact is the largest integer magnitude float64 holds exactly.
const maxExact = 1 << 53

func numberValue(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil && (i > maxExact || i < -maxExact) {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("serializer: number %s out of range", n)
	}
	return f, nil
}

// Serialize converts an arbitrary Go value into a JSON-compatible tree in
// which rich values are tagged objects. Structs follow encoding/json field
// naming rules.
func (c *Codec) Serialize(v any) (any, error) {
	return c.encode(reflect.ValueOf(v))
}

// Marshal serializes v and encodes it as JSON.
func (c *Codec) Marshal(v any) ([]byte, error) {
	tree, err := c.Serialize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// Decode copies a parsed value into dst, which must be a pointer. Struct
// fields of type Timestamp and GeoPoint are filled from tagged objects,
// time.Time and string fields from dates, and interface-typed slots such as
// the values of a map[string]any receive revived rich values.
func Decode(value any, dst any) error {
	if p, ok := dst.(*any); ok {
		*p = value
		return nil
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("serializer: decoding into %T: not a non-nil pointer", dst)
	}
	tree, err := defaultCodec.Serialize(value)
	if err != nil {
		return fmt.Errorf("serializer: re-encoding value: %w", err)
	}
	tree = shape(tree, rv.Type().Elem())
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("serializer: re-encoding value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("serializer: decoding into %T: %w", dst, err)
	}
	if err := reviveSlots(rv); err != nil {
		return fmt.Errorf("serializer: decoding into %T: %w", dst, err)
	}
	return nil
}

var (
	timeType        = reflect.TypeFor[time.Time]()
	unmarshalerType = reflect.TypeFor[json.Unmarshaler]()
)

// shape fits a serialized tree to json.Unmarshal into a value of type t,
// rewriting it in place. Dates bound for time.Time or string slots become
// RFC 3339 strings; everywhere else rich values stay tagged so reviveSlots
// can restore them.
func shape(v any, t reflect.Type) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	m, isMap := v.(map[string]any)
	if isMap && m[TypeKey] == TypeDate && (t == timeType || t.Kind() == reflect.String) {
		return m["value"]
	}
	if t.Kind() == reflect.Interface || reflect.PointerTo(t).Implements(unmarshalerType) {
		return v
	}

	switch x := v.(type) {
	case map[string]any:
		if _, tagged := x[TypeKey]; tagged {
			return x
		}
		switch t.Kind() {
		case reflect.Map:
			for k, e := range x {
				x[k] = shape(e, t.Elem())
			}
		case reflect.Struct:
			fields := fieldTypes(t)
			for k, e := range x {
				if ft, ok := fields.lookup(k); ok {
					x[k] = shape(e, ft)
				}
			}
		}
	case []any:
		if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
			for i, e := range x {
				x[i] = shape(e, t.Elem())
			}
		}
	}
	return v
}

// structFields maps JSON object keys to struct field types, following the
// encoding/json naming rules including case-insensitive matching.
type structFields struct {
	exact  map[string]reflect.Type
	folded map[string]reflect.Type
}

func fieldTypes(t reflect.Type) structFields {
	f := structFields{exact: map[string]reflect.Type{}, folded: map[string]reflect.Type{}}
	f.collect(t)
	return f
}

func (f structFields) collect(t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				f.collect(ft)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if _, dup := f.exact[name]; !dup {
			f.exact[name] = sf.Type
		}
		if _, dup := f.folded[strings.ToLower(name)]; !dup {
			f.folded[strings.ToLower(name)] = sf.Type
		}
	}
}

func (f structFields) lookup(key string) (reflect.Type, bool) {
	if t, ok := f.exact[key]; ok {
		return t, true
	}
	t, ok := f.folded[strings.ToLower(key)]
	return t, ok
}

// reviveSlots walks rv and revives tagged objects held in interface values.
func reviveSlots(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return reviveSlots(rv.Elem())
	case reflect.Interface:
		if rv.IsNil() || !rv.CanSet() || rv.NumMethod() > 0 {
			return nil
		}
		v, err := defaultCodec.Revive(rv.Interface())
		if err != nil {
			return err
		}
		if v != nil {
			rv.Set(reflect.ValueOf(v))
		}
	case reflect.Slice, reflect.Array:
		if !holdsInterface(rv.Type().Elem()) {
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := reviveSlots(rv.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		if rv.IsNil() || !holdsInterface(rv.Type().Elem()) {
			return nil
		}
		iter := rv.MapRange()
		for iter.Next() {
			elem := reflect.New(rv.Type().Elem()).Elem()
			elem.Set(iter.Value())
			if err := reviveSlots(elem); err != nil {
				return err
			}
			rv.SetMapIndex(iter.Key(), elem)
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if !rv.Type().Field(i).IsExported() {
				continue
			}
			if err := reviveSlots(rv.Field(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// holdsInterface reports whether values of t can contain interface slots.
func holdsInterface(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Struct:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return holdsInterface(t.Elem())
	}
	return false
}

var marshalerType = reflect.TypeFor[json.Marshaler]()

func (c *Codec) encode(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) && rv.IsNil() {
		return nil, nil
	}
	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case time.Time:
			return dateValue(x), nil
		case *time.Time:
			return dateValue(*x), nil
		case Timestamp:
			return x.tagged(), nil
		case *Timestamp:
			return x.tagged(), nil
		case GeoPoint:
			if err := x.validate(); err != nil {
				return nil, err
			}
			return x.tagged(), nil
		case *GeoPoint:
			return c.encode(reflect.ValueOf(*x))
		case json.Number:
			return x, nil
		case json.RawMessage:
			var out any
			if err := json.Unmarshal(x, &out); err != nil {
				return nil, fmt.Errorf("serializer: invalid raw message: %w", err)
			}
			return out, nil
		}
		if rv.Kind() != reflect.Interface && rv.Type().Implements(marshalerType) {
			data, err := rv.Interface().(json.Marshaler).MarshalJSON()
			if err != nil {
				return nil, err
			}
			var out any
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, err
			}
			return out, nil
		}
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		return c.encode(rv.Elem())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("serializer: unsupported float value %v", f)
		}
		return f, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
		return c.encodeList(rv)
	case reflect.Array:
		return c.encodeList(rv)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		return c.encodeMap(rv)
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		if err := c.encodeFields(rv, out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("serializer: unsupported type %s", rv.Type())
	}
}

func (c *Codec) encodeList(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		v, err := c.encode(rv.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (c *Codec) encodeMap(rv reflect.Value) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		v, err := c.encode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("serializer: unsupported map key type %s", k.Type())
}

func (c *Codec) encodeFields(rv reflect.Value, out map[string]any) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv, ft = fv.Elem(), ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if err := c.encodeFields(fv, out); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		v, err := c.encode(fv)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		out[name] = v
	}
	return nil
}
