package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKey(t *testing.T) {
	a := Query{}.Where("userId", "u-1").Where("read", false).Ordered("timestamp", true)
	b := Query{}.Where("read", false).Where("userId", "u-1").Ordered("timestamp", true)
	c := Query{}.Where("userId", "u-1").Where("read", false).Ordered("timestamp", false)

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.NotEqual(t, Query{}.Where("n", "1").Key(), Query{}.Where("n", int64(1)).Key())
}

func TestQueryKeyNumbersByValue(t *testing.T) {
	five := Query{}.Where("n", 5)
	for _, other := range []any{int32(5), int64(5), float32(5), 5.0} {
		q := Query{}.Where("n", other)
		assert.True(t, q.Match(Fields{"n": 5}), "%T", other)
		assert.Equal(t, five.Key(), q.Key(), "%T", other)
	}
	assert.NotEqual(t, five.Key(), Query{}.Where("n", 5.5).Key())
	assert.NotEqual(t, five.Key(), Query{}.Where("n", true).Key())
}

func TestQueryBuildersDoNotAlias(t *testing.T) {
	base := Query{}.Where("role", "MANAGER")
	first := base.Where("active", true)
	second := base.Where("active", false)

	require.Len(t, first.Filters, 2)
	assert.Equal(t, true, first.Filters[1].Value)
	assert.Equal(t, false, second.Filters[1].Value)
}

func TestQueryMatch(t *testing.T) {
	tests := []struct {
		name   string
		query  Query
		fields Fields
		want   bool
	}{
		{"no filters", Query{}, Fields{"a": 1}, true},
		{"equal string", Query{}.Where("role", "COORDINATOR"), Fields{"role": "COORDINATOR"}, true},
		{"different string", Query{}.Where("role", "COORDINATOR"), Fields{"role": "MANAGER"}, false},
		{"missing field", Query{}.Where("role", "COORDINATOR"), Fields{}, false},
		{"numbers across types", Query{}.Where("n", 2), Fields{"n": int64(2)}, true},
		{"nil matches missing", Query{}.Where("managerId", nil), Fields{}, true},
		{"nil matches null", Query{}.Where("managerId", nil), Fields{"managerId": nil}, true},
		{"nil rejects value", Query{}.Where("managerId", nil), Fields{"managerId": "m"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Match(tt.fields))
		})
	}
}

func TestQueryApplyOrdersAndLimits(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "b", Fields: Fields{"ts": t0.Add(time.Minute)}},
		{ID: "a", Fields: Fields{"ts": t0.Add(time.Minute)}},
		{ID: "c", Fields: Fields{"ts": t0.Add(90 * time.Second).Format(time.RFC3339Nano)}},
		{ID: "d", Fields: Fields{"ts": t0}},
	}

	q := Query{Limit: 3}.Ordered("ts", true)
	got := q.Apply(docs)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.True(t, q.IsSorted(got))
	assert.Equal(t, "b", docs[0].ID)
}

func TestFieldsStripped(t *testing.T) {
	f := Fields{"keep": "", "null": nil, "drop": Unset}
	out := f.Stripped()

	assert.Equal(t, Fields{"keep": "", "null": nil}, out)
	assert.Contains(t, f, "drop")
	assert.True(t, IsUnset(Unset))
	assert.False(t, IsUnset(nil))
}

func TestEncodeDecodeNormalizes(t *testing.T) {
	ts := time.Date(2026, 5, 4, 3, 2, 1, 500, time.UTC)
	data, err := Encode(Fields{"n": 3, "ts": ts, "items": []any{map[string]any{"id": "i-1"}}})
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got["n"])
	assert.True(t, ts.Equal(got.Time("ts")))
	assert.Equal(t, []any{map[string]any{"id": "i-1"}}, got["items"])

	_, err = Encode(Fields{"bad": Unset})
	assert.Error(t, err)
}
