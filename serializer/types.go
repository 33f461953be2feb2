package serializer

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Timestamp is a point in time with nanosecond precision, independent of
// any time zone. It travels as a tagged object so the receiving side can
// rebuild it instead of seeing a plain string.
type Timestamp struct {
	Seconds     int64
	Nanoseconds int32
}

// NewTimestamp converts t to a Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
}

// Now returns the current time as a Timestamp.
func Now() Timestamp { return NewTimestamp(time.Now()) }

// Time returns the timestamp as a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanoseconds)).UTC()
}

// Equal reports whether t and o denote the same instant.
func (t Timestamp) Equal(o Timestamp) bool {
	return t.Seconds == o.Seconds && t.Nanoseconds == o.Nanoseconds
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or
// after o.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Seconds < o.Seconds:
		return -1
	case t.Seconds > o.Seconds:
		return 1
	case t.Nanoseconds < o.Nanoseconds:
		return -1
	case t.Nanoseconds > o.Nanoseconds:
		return 1
	}
	return 0
}

func (t Timestamp) String() string {
	return t.Time().Format(time.RFC3339Nano)
}

func (t Timestamp) tagged() map[string]any {
	return map[string]any{
		TypeKey:       TypeTimestamp,
		"seconds":     t.Seconds,
		"nanoseconds": t.Nanoseconds,
	}
}

// MarshalJSON implements json.Marshaler using the tagged wire form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.tagged())
}

// UnmarshalJSON implements json.Unmarshaler for the tagged wire form.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	v, err := decodeTimestamp(m)
	if err != nil {
		return err
	}
	*t = v.(Timestamp)
	return nil
}

// GeoPoint is a geographic coordinate in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// NewGeoPoint returns a GeoPoint, rejecting coordinates outside the valid
// latitude and longitude ranges.
func NewGeoPoint(lat, lng float64) (GeoPoint, error) {
	p := GeoPoint{Latitude: lat, Longitude: lng}
	if err := p.validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Equal reports whether p and o are the same coordinate.
func (p GeoPoint) Equal(o GeoPoint) bool {
	return p.Latitude == o.Latitude && p.Longitude == o.Longitude
}

func (p GeoPoint) validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("serializer: latitude %v out of range [-90, 90]", p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("serializer: longitude %v out of range [-180, 180]", p.Longitude)
	}
	return nil
}

func (p GeoPoint) tagged() map[string]any {
	return map[string]any{
		TypeKey:     TypeGeoPoint,
		"latitude":  p.Latitude,
		"longitude": p.Longitude,
	}
}

// MarshalJSON implements json.Marshaler using the tagged wire form.
func (p GeoPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.tagged())
}

// UnmarshalJSON implements json.Unmarshaler for the tagged wire form.
func (p *GeoPoint) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	v, err := decodeGeoPoint(m)
	if err != nil {
		return err
	}
	*p = v.(GeoPoint)
	return nil
}

func dateValue(t time.Time) map[string]any {
	return map[string]any{
		TypeKey: TypeDate,
		"value": t.UTC().Format(time.RFC3339Nano),
	}
}

func decodeTimestamp(m map[string]any) (any, error) {
	secs, err := integer(m, "seconds")
	if err != nil {
		return nil, err
	}
	nanos, err := integer(m, "nanoseconds")
	if err != nil {
		return nil, err
	}
	if nanos < 0 || nanos > 999_999_999 {
		return nil, fmt.Errorf("serializer: nanoseconds %d out of range", nanos)
	}
	return Timestamp{Seconds: secs, Nanoseconds: int32(nanos)}, nil
}

func decodeGeoPoint(m map[string]any) (any, error) {
	lat, err := number(m, "latitude")
	if err != nil {
		return nil, err
	}
	lng, err := number(m, "longitude")
	if err != nil {
		return nil, err
	}
	return NewGeoPoint(lat, lng)
}

func decodeDate(m map[string]any) (any, error) {
	s, ok := m["value"].(string)
	if !ok {
		return nil, fmt.Errorf("serializer: %s value must be a string", TypeDate)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("serializer: invalid %s: %w", TypeDate, err)
	}
	return t.UTC(), nil
}

func number(m map[string]any, key string) (float64, error) {
	switch v := m[key].(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case nil:
		return 0, fmt.Errorf("serializer: missing field %q", key)
	default:
		return 0, fmt.Errorf("serializer: field %q must be a number, got %T", key, v)
	}
}

func integer(m map[string]any, key string) (int64, error) {
	switch v := m[key].(type) {
	case int64:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
	}
	f, err := number(m, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("serializer: field %q must be an integer", key)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("serializer: field %q out of range", key)
	}
	return int64(f), nil
}
