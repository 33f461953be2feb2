package docstore

import (
	"cmp"
	"encoding/json"
	"time"

	"github.com/LukasParke/callkit/serializer"
)

// Equal reports whether two field values are deeply equal. Timestamps and
// geographic points compare by value, dates by instant, numbers by numeric
// value regardless of Go type, and maps by their full key sets.
func Equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool, string:
		return a == b
	case serializer.Timestamp:
		y, ok := b.(serializer.Timestamp)
		return ok && x.Equal(y)
	case serializer.GeoPoint:
		y, ok := b.(serializer.GeoPoint)
		return ok && x.Equal(y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// rank orders value kinds the way mixed-type fields sort: null, booleans,
// numbers, instants, strings, points, arrays, maps.
func rank(v any) int {
	if _, ok := number(v); ok {
		return 2
	}
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case serializer.Timestamp, time.Time:
		return 3
	case string:
		return 4
	case serializer.GeoPoint:
		return 5
	case []any:
		return 6
	case map[string]any:
		return 7
	}
	return 8
}

func instant(v any) time.Time {
	switch t := v.(type) {
	case serializer.Timestamp:
		return t.Time()
	case time.Time:
		return t
	}
	return time.Time{}
}

// compare orders two field values. Values of different kinds order by rank.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 2:
		fa, _ := number(a)
		fb, _ := number(b)
		return cmp.Compare(fa, fb)
	case 3:
		return instant(a).Compare(instant(b))
	case 4:
		return cmp.Compare(a.(string), b.(string))
	case 5:
		pa, pb := a.(serializer.GeoPoint), b.(serializer.GeoPoint)
		if c := cmp.Compare(pa.Latitude, pb.Latitude); c != 0 {
			return c
		}
		return cmp.Compare(pa.Longitude, pb.Longitude)
	case 6:
		la, lb := a.([]any), b.([]any)
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := compare(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(la), len(lb))
	}
	return 0
}
