package syncer

import (
	"encoding/json"
	"reflect"
	"time"
)

// Tolerance is the smallest timestamp difference treated as drift.
const Tolerance = time.Millisecond

// Outdated reports whether an indexed value differs from its source value.
//
// Timestamps are compared with millisecond tolerance. Either side may be a
// time.Time, an RFC 3339 string, or, when the other side is a timestamp, a
// number of milliseconds since the epoch. Numbers compare by value regardless
// of their Go type; everything else compares by deep equality.
func Outdated(source, indexed any) bool {
	st, sok := asTime(source, nil)
	it, iok := asTime(indexed, nil)
	switch {
	case sok && iok:
		return timeDiff(st, it) >= Tolerance
	case sok:
		if it, ok := asTime(indexed, &st); ok {
			return timeDiff(st, it) >= Tolerance
		}
	case iok:
		if st, ok := asTime(source, &it); ok {
			return timeDiff(st, it) >= Tolerance
		}
	}

	if sf, ok := asNumber(source); ok {
		if inf, ok := asNumber(indexed); ok {
			return sf != inf
		}
	}
	return !reflect.DeepEqual(source, indexed)
}

// asTime converts v to a time. Numbers are only accepted as epoch
// milliseconds when peer is a known timestamp.
func asTime(v any, peer *time.Time) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	if peer != nil {
		if ms, ok := asNumber(v); ok {
			return time.UnixMilli(int64(ms)), true
		}
	}
	return time.Time{}, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func timeDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}
