package docql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_renderExpr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr sqlExpr
		want Translation
	}{
		{
			name: "raw",
			expr: rawExpr{sql: "data"},
			want: Translation{SQL: "data"},
		},
		{
			name: "literal",
			expr: literalExpr{text: "'$[2]'"},
			want: Translation{SQL: "'$[2]'"},
		},
		{
			name: "placeholder",
			expr: placeholderExpr{value: int64(5)},
			want: Translation{SQL: "?", Params: []any{int64(5)}},
		},
		{
			name: "call-no-args",
			expr: callExpr{name: "RANDOM"},
			want: Translation{SQL: "RANDOM()"},
		},
		{
			name: "call-with-args",
			expr: callExpr{name: "lower", args: []sqlExpr{placeholderExpr{value: "X"}}},
			want: Translation{SQL: "lower(?)", Params: []any{"X"}},
		},
		{
			name: "call-multi-args-comma-separated",
			expr: callExpr{name: "substr", args: []sqlExpr{
				rawExpr{sql: "col"}, placeholderExpr{value: int64(0)}, placeholderExpr{value: int64(3)},
			}},
			want: Translation{SQL: "substr(col, ?, ?)", Params: []any{int64(0), int64(3)}},
		},
		{
			name: "binary",
			expr: binaryExpr{left: placeholderExpr{value: int64(1)}, op: "+", right: placeholderExpr{value: int64(2)}},
			want: Translation{SQL: "(? + ?)", Params: []any{int64(1), int64(2)}},
		},
		{
			name: "cond",
			expr: condExpr{
				cond: binaryExpr{left: rawExpr{sql: "col"}, op: ">", right: placeholderExpr{value: int64(1)}},
				then: placeholderExpr{value: "yes"},
				els:  placeholderExpr{value: "no"},
			},
			want: Translation{
				SQL:    "(CASE WHEN (col > ?) THEN ? ELSE ? END)",
				Params: []any{int64(1), "yes", "no"},
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := renderExpr(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Test_renderExpr_nestedParamOrder asserts params are collected depth-first,
// left-to-right, across a nested tree, matching the "?" placeholder count
// and order invariant.
func Test_renderExpr_nestedParamOrder(t *testing.T) {
	t.Parallel()
	expr := callExpr{name: "f", args: []sqlExpr{
		binaryExpr{left: placeholderExpr{value: int64(1)}, op: "+", right: placeholderExpr{value: int64(2)}},
		condExpr{
			cond: placeholderExpr{value: int64(3)},
			then: placeholderExpr{value: int64(4)},
			els:  placeholderExpr{value: int64(5)},
		},
	}}
	got, err := renderExpr(expr)
	require.NoError(t, err)
	assert.Equal(t, "f((? + ?), (CASE WHEN ? THEN ? ELSE ? END))", got.SQL)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, got.Params)
	assert.Equal(t, count(got.SQL, '?'), len(got.Params))
}

func count(s string, b byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			n++
		}
	}
	return n
}
