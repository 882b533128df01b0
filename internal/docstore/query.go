package docstore

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Filter is an equality constraint on a top-level field. A nil Value matches
// documents where the field is null or missing.
type Filter struct {
	Field string
	Value any
}

// Order sorts on a top-level field.
type Order struct {
	Field string
	Desc  bool
}

// Query is the constraint set of a query or subscription.
type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Value: value})
	return q
}

// Ordered returns a copy of q with an extra sort key.
func (q Query) Ordered(field string, desc bool) Query {
	q.OrderBy = append(slices.Clone(q.OrderBy), Order{Field: field, Desc: desc})
	return q
}

// Key is a canonical representation of q. Two queries with the same filters
// in any order and the same ordering produce the same key.
func (q Query) Key() string {
	filters := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, f.Field+"="+keyValue(f.Value))
	}
	slices.Sort(filters)

	var b strings.Builder
	b.WriteString("where(")
	b.WriteString(strings.Join(filters, ","))
	b.WriteString(")order(")
	for i, o := range q.OrderBy {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(o.Field)
		if o.Desc {
			b.WriteString(" desc")
		}
	}
	b.WriteString(")")
	if q.Limit > 0 {
		b.WriteString("limit(" + strconv.Itoa(q.Limit) + ")")
	}
	return b.String()
}

func keyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case int, int32, int64, float32, float64:
		// Match compares numbers by value, so the key must too.
		return "number:" + strconv.FormatFloat(toFloat(v), 'g', -1, 64)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// Match reports whether fields satisfy every filter.
func (q Query) Match(f Fields) bool {
	for _, flt := range q.Filters {
		v, ok := f[flt.Field]
		if flt.Value == nil {
			if ok && v != nil {
				return false
			}
			continue
		}
		if !ok || compareValues(v, flt.Value) != 0 {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits docs. The input slice is not modified.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Match(d.Fields) {
			out = append(out, d)
		}
	}
	q.Sort(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Sort orders docs in place by the query's sort keys, breaking ties on id
// so every backend yields the same sequence for the same state.
func (q Query) Sort(docs []Document) {
	slices.SortStableFunc(docs, q.Compare)
}

// Compare orders two documents under q.
func (q Query) Compare(a, b Document) int {
	for _, o := range q.OrderBy {
		c := compareValues(a.Fields[o.Field], b.Fields[o.Field])
		if o.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}

// IsSorted reports whether docs already respect the query's ordering.
func (q Query) IsSorted(docs []Document) bool {
	return slices.IsSortedFunc(docs, q.Compare)
}

// compareValues orders nulls first, then booleans, numbers, times and
// strings. Strings that both parse as RFC 3339 compare as instants.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ta, tb, ok := asTimes(a, b); ok {
			return ta.Compare(tb)
		}
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		return cmp.Compare(toFloat(a), toFloat(b))
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankString:
		as, bs := a.(string), b.(string)
		if ta, tb, ok := asTimes(as, bs); ok {
			return ta.Compare(tb)
		}
		return cmp.Compare(as, bs)
	default:
		return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int, int32, int64, float32, float64:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		return rankString
	default:
		return rankOther
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	}
	return 0
}

func asTimes(a, b any) (time.Time, time.Time, bool) {
	ta, okA := asTime(a)
	tb, okB := asTime(b)
	return ta, tb, okA && okB
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
