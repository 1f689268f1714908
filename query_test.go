package docql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Translate_fieldOperators(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		filter any
		want   Translation
	}{
		{
			name:   "ne-includes-missing",
			filter: D{{Key: "age", Value: D{{Key: "$ne", Value: int64(1)}}}},
			want: Translation{
				SQL:    "(json_extract(data,'$.age') != ? OR json_extract(data,'$.age') IS NULL)",
				Params: []any{int64(1)},
			},
		},
		{
			name:   "gte",
			filter: D{{Key: "age", Value: D{{Key: "$gte", Value: int64(21)}}}},
			want: Translation{
				SQL:    "json_extract(data,'$.age') >= ?",
				Params: []any{int64(21)},
			},
		},
		{
			name:   "in-membership",
			filter: D{{Key: "status", Value: D{{Key: "$in", Value: NewArray("a", "b")}}}},
			want: Translation{
				SQL:    "json_extract(data,'$.status') IN (?, ?)",
				Params: []any{"a", "b"},
			},
		},
		{
			name:   "in-empty-is-always-false",
			filter: D{{Key: "status", Value: D{{Key: "$in", Value: NewArray()}}}},
			want:   Translation{SQL: "(1=0)"},
		},
		{
			name:   "nin-empty-is-always-true",
			filter: D{{Key: "status", Value: D{{Key: "$nin", Value: NewArray()}}}},
			want:   Translation{SQL: "(1=1)"},
		},
		{
			name:   "exists-true",
			filter: D{{Key: "email", Value: D{{Key: "$exists", Value: true}}}},
			want:   Translation{SQL: "json_extract(data,'$.email') IS NOT NULL"},
		},
		{
			name:   "exists-false",
			filter: D{{Key: "email", Value: D{{Key: "$exists", Value: false}}}},
			want:   Translation{SQL: "json_extract(data,'$.email') IS NULL"},
		},
		{
			name:   "type-single-alias",
			filter: D{{Key: "name", Value: D{{Key: "$type", Value: "string"}}}},
			want:   Translation{SQL: "json_type(json_extract(data,'$.name')) = ?", Params: []any{"text"}},
		},
		{
			name:   "type-multi-alias",
			filter: D{{Key: "name", Value: D{{Key: "$type", Value: "bool"}}}},
			want:   Translation{SQL: "json_type(json_extract(data,'$.name')) IN (?, ?)", Params: []any{"true", "false"}},
		},
		{
			name:   "mod",
			filter: D{{Key: "n", Value: D{{Key: "$mod", Value: NewArray(int64(4), int64(0))}}}},
			want: Translation{
				SQL:    "(json_extract(data,'$.n') % ?) = ?",
				Params: []any{int64(4), int64(0)},
			},
		},
		{
			name:   "size",
			filter: D{{Key: "tags", Value: D{{Key: "$size", Value: int64(2)}}}},
			want:   Translation{SQL: "json_array_length(json_extract(data,'$.tags')) = ?", Params: []any{int64(2)}},
		},
		{
			name:   "all",
			filter: D{{Key: "tags", Value: D{{Key: "$all", Value: NewArray("a", "b")}}}},
			want: Translation{
				SQL: "(EXISTS (SELECT 1 FROM json_each(json_extract(data,'$.tags')) WHERE value = ?) " +
					"AND EXISTS (SELECT 1 FROM json_each(json_extract(data,'$.tags')) WHERE value = ?))",
				Params: []any{"a", "b"},
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Translate(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Test_Translate_compoundEquality: implicit equality against an object or
// array value compares canonical JSON, parameterised through json(?).
func Test_Translate_compoundEquality(t *testing.T) {
	t.Parallel()
	got, err := Translate(D{{Key: "address", Value: map[string]any{
		"city": "Paris",
		"zip":  "75001",
	}}})
	require.NoError(t, err)
	assert.Equal(t, "json_extract(data,'$.address') = json(?)", got.SQL)
	assert.Equal(t, []any{`{"city":"Paris","zip":"75001"}`}, got.Params)
}

func Test_Translate_elemMatch(t *testing.T) {
	t.Parallel()
	filter := D{{Key: "items", Value: D{{Key: "$elemMatch", Value: D{
		{Key: "qty", Value: D{{Key: "$gt", Value: int64(10)}}},
	}}}}}
	got, err := Translate(filter)
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM json_each(json_extract(data,'$.items')) WHERE json_extract(value,'$.qty') > ?)",
		got.SQL)
	assert.Equal(t, []any{int64(10)}, got.Params)
}

func Test_Translate_fieldLevelNot(t *testing.T) {
	t.Parallel()
	filter := D{{Key: "age", Value: D{
		{Key: "$not", Value: D{{Key: "$gt", Value: int64(18)}}},
	}}}
	got, err := Translate(filter)
	require.NoError(t, err)
	assert.Equal(t,
		"(NOT (json_extract(data,'$.age') > ?) OR json_extract(data,'$.age') IS NULL)",
		got.SQL)
	assert.Equal(t, []any{int64(18)}, got.Params)
}

func Test_Translate_nor(t *testing.T) {
	t.Parallel()
	filter := D{{Key: "$nor", Value: NewArray(
		D{{Key: "a", Value: int64(1)}},
		D{{Key: "b", Value: int64(2)}},
	)}}
	got, err := Translate(filter)
	require.NoError(t, err)
	assert.Equal(t,
		"NOT (json_extract(data,'$.a') = ? OR json_extract(data,'$.b') = ?)",
		got.SQL)
	assert.Equal(t, []any{int64(1), int64(2)}, got.Params)
}

func Test_Translate_regex(t *testing.T) {
	t.Parallel()
	t.Run("valid-pattern", func(t *testing.T) {
		t.Parallel()
		got, err := Translate(D{{Key: "name", Value: D{{Key: "$regex", Value: "^al"}}}})
		require.NoError(t, err)
		assert.Equal(t, "json_extract(data,'$.name') REGEXP ?", got.SQL)
		assert.Equal(t, []any{"^al"}, got.Params)
	})
	t.Run("case-insensitive-option", func(t *testing.T) {
		t.Parallel()
		got, err := Translate(D{{Key: "name", Value: D{
			{Key: "$regex", Value: "^al"},
			{Key: "$options", Value: "i"},
		}}})
		require.NoError(t, err)
		assert.Equal(t, []any{"(?i)^al"}, got.Params)
	})
	t.Run("invalid-pattern-rejects", func(t *testing.T) {
		t.Parallel()
		_, err := Translate(D{{Key: "name", Value: D{{Key: "$regex", Value: "("}}}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func Test_Translate_errorTaxonomy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		filter    any
		wantErrIs error
	}{
		{name: "unknown-field-operator", filter: D{{Key: "a", Value: D{{Key: "$bogus", Value: 1}}}}, wantErrIs: ErrInvalidOperator},
		{name: "in-non-array", filter: D{{Key: "a", Value: D{{Key: "$in", Value: int64(1)}}}}, wantErrIs: ErrInvalidArgument},
		{name: "mod-wrong-arity", filter: D{{Key: "a", Value: D{{Key: "$mod", Value: NewArray(int64(1))}}}}, wantErrIs: ErrInvalidArgument},
		{name: "exists-non-bool", filter: D{{Key: "a", Value: D{{Key: "$exists", Value: "yes"}}}}, wantErrIs: ErrInvalidArgument},
		{name: "empty-field-path", filter: D{{Key: "", Value: int64(1)}}, wantErrIs: ErrInvalidPath},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Translate(tc.filter)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErrIs)
		})
	}
}

func Test_Translate_maxPathDepth(t *testing.T) {
	t.Parallel()
	_, err := Translate(D{{Key: "a.b.c", Value: int64(1)}}, WithMaxPathDepth(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.ErrorContains(t, err, "exceeds max depth")
}

func Test_Translate_fieldValidator(t *testing.T) {
	t.Parallel()
	allowed := map[string]bool{"name": true}
	validator := func(path string) bool { return allowed[path] }

	t.Run("accepts-allowed-path", func(t *testing.T) {
		t.Parallel()
		got, err := Translate(D{{Key: "name", Value: "John"}}, WithFieldValidator(validator))
		require.NoError(t, err)
		assert.Equal(t, "json_extract(data,'$.name') = ?", got.SQL)
	})
	t.Run("rejects-disallowed-path", func(t *testing.T) {
		t.Parallel()
		_, err := Translate(D{{Key: "secret", Value: "x"}}, WithFieldValidator(validator))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
	t.Run("missing-validator-func-rejected", func(t *testing.T) {
		t.Parallel()
		_, err := getOpts(WithFieldValidator(nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func Test_Translate_logicalNestingDepth(t *testing.T) {
	t.Parallel()
	filter := D{{Key: "a", Value: int64(1)}}
	var nested any = filter
	for i := 0; i < maxLogicalNestingDepth+1; i++ {
		nested = D{{Key: "$and", Value: NewArray(nested)}}
	}
	_, err := Translate(nested)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorContains(t, err, "nesting exceeds max depth")
}
