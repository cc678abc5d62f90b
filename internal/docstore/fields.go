package docstore

import (
	"sort"
	"strings"
	"time"
)

// FieldAt resolves a dotted field path against a field map.
func FieldAt(fields Fields, path string) (any, bool) {
	cur := any(fields)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setFieldAt writes a value at a dotted path, creating nested maps as needed.
func setFieldAt(fields Fields, path string, v any) {
	segs := strings.Split(path, ".")
	m := fields
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[seg] = next
		}
		m = next
	}
	last := segs[len(segs)-1]
	if _, ok := v.(deleteField); ok {
		delete(m, last)
		return
	}
	m[last] = v
}

// resolveSentinels replaces write sentinels with concrete values against the
// document's prior state.
func resolveSentinels(prior Fields, updates Fields, now time.Time) Fields {
	out := make(Fields, len(updates))
	for k, v := range updates {
		switch sv := v.(type) {
		case serverTimestamp:
			out[k] = now
		case incrementValue:
			base := 0.0
			if prior != nil {
				if cur, ok := FieldAt(prior, k); ok {
					base, _ = AsFloat(cur)
				}
			}
			out[k] = base + sv.n
		case map[string]any:
			out[k] = resolveSentinels(nil, sv, now)
		default:
			out[k] = v
		}
	}
	return out
}

// mergeFields deep-merges src over dst (dst mutated and returned).
func mergeFields(dst, src Fields) Fields {
	if dst == nil {
		dst = Fields{}
	}
	for k, v := range src {
		if _, ok := v.(deleteField); ok {
			delete(dst, k)
			continue
		}
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeFields(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// AsFloat coerces any numeric field value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	default:
		return 0, false
	}
}

// AsTime coerces a field value to a timestamp. JSON round-trips store
// timestamps as RFC3339 strings, so both encodings are accepted.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	default:
		return time.Time{}, false
	}
}

// valuesEqual compares field values with numeric coercion.
func valuesEqual(a, b any) bool {
	if fa, ok := AsFloat(a); ok {
		if fb, ok := AsFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case nil:
		return b == nil
	default:
		return false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// MatchFilter evaluates one filter against a field map.
func MatchFilter(fields Fields, f Filter) bool {
	got, ok := FieldAt(fields, f.Field)
	switch f.Op {
	case OpEqual:
		return ok && valuesEqual(got, f.Value)
	case OpIn:
		if !ok {
			return false
		}
		want, isSlice := asSlice(f.Value)
		if !isSlice {
			return false
		}
		for _, w := range want {
			if valuesEqual(got, w) {
				return true
			}
		}
		return false
	case OpArrayContains:
		arr, isArr := asSlice(got)
		if !ok || !isArr {
			return false
		}
		for _, e := range arr {
			if valuesEqual(e, f.Value) {
				return true
			}
		}
		return false
	case OpArrayContainsAny:
		arr, isArr := asSlice(got)
		want, isSlice := asSlice(f.Value)
		if !ok || !isArr || !isSlice {
			return false
		}
		for _, e := range arr {
			for _, w := range want {
				if valuesEqual(e, w) {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func matchAll(fields Fields, filters []Filter) bool {
	for _, f := range filters {
		if !MatchFilter(fields, f) {
			return false
		}
	}
	return true
}

// SortDocs orders docs by a field (missing values sort first), path as the
// tiebreak so results are deterministic.
func SortDocs(docs []Doc, field string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		less := lessByField(docs[i], docs[j], field)
		if desc {
			return lessByField(docs[j], docs[i], field)
		}
		return less
	})
}

func lessByField(a, b Doc, field string) bool {
	av, aok := FieldAt(a.Fields, field)
	bv, bok := FieldAt(b.Fields, field)
	if !aok || !bok {
		if aok == bok {
			return a.Path < b.Path
		}
		return !aok
	}
	if af, ok := AsFloat(av); ok {
		if bf, ok := AsFloat(bv); ok {
			if af != bf {
				return af < bf
			}
			return a.Path < b.Path
		}
	}
	if as, ok := av.(string); ok {
		if bs, ok := bv.(string); ok {
			if as != bs {
				return as < bs
			}
			return a.Path < b.Path
		}
	}
	if at, ok := av.(time.Time); ok {
		if bt, ok := bv.(time.Time); ok {
			if !at.Equal(bt) {
				return at.Before(bt)
			}
			return a.Path < b.Path
		}
	}
	return a.Path < b.Path
}
