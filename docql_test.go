package docql_test

import (
	"testing"

	"github.com/docql/docql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_Translate covers representative query translations, plus the
// empty-filter identity.
func Test_Translate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		filter          any
		want            docql.Translation
		wantErrContains string
		wantErrIs       error
	}{
		{
			name:   "empty-filter-is-universally-true",
			filter: map[string]any{},
			want:   docql.Translation{SQL: "1=1"},
		},
		{
			name: "implicit-eq-and-gt",
			filter: docql.D{
				{Key: "name", Value: "John"},
				{Key: "age", Value: docql.D{{Key: "$gt", Value: int64(18)}}},
			},
			want: docql.Translation{
				SQL:    "(json_extract(data,'$.name') = ? AND json_extract(data,'$.age') > ?)",
				Params: []any{"John", int64(18)},
			},
		},
		{
			name:            "unknown-top-level-operator",
			filter:          docql.D{{Key: "$bogus", Value: int64(1)}},
			wantErrContains: "unknown top-level operator",
			wantErrIs:       docql.ErrInvalidOperator,
		},
		{
			name:            "dollar-prefixed-field-rejects",
			filter:          docql.D{{Key: "$where", Value: "1"}},
			wantErrContains: "not supported",
			wantErrIs:       docql.ErrUnsupported,
		},
		{
			name:            "empty-and-is-rejected",
			filter:          docql.D{{Key: "$and", Value: docql.NewArray()}},
			wantErrIs:       docql.ErrInvalidArgument,
			wantErrContains: "$and must not be empty",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := docql.Translate(tc.filter)
			if tc.wantErrContains != "" || tc.wantErrIs != nil {
				require.Error(t, err)
				if tc.wantErrIs != nil {
					assert.ErrorIs(t, err, tc.wantErrIs)
				}
				assert.ErrorContains(t, err, tc.wantErrContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func Test_Translate_orRequiresArrayArgument(t *testing.T) {
	t.Parallel()
	_, err := docql.Translate(docql.D{{Key: "$or", Value: docql.D{{Key: "a", Value: int64(1)}}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, docql.ErrInvalidArgument)
}

func Test_Translate_orJoinsDisjuncts(t *testing.T) {
	t.Parallel()
	filter := map[string]any{
		"$or": []any{
			map[string]any{"a": int64(1)},
			map[string]any{"b": int64(2)},
		},
	}
	got, err := docql.Translate(filter)
	require.NoError(t, err)
	assert.Contains(t, got.SQL, "OR")
	assert.Equal(t, []any{int64(1), int64(2)}, got.Params)
}

func Test_TranslateUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		update          any
		want            docql.Translation
		wantErrContains string
		wantErrIs       error
	}{
		{
			name:   "empty-update-is-data-verbatim",
			update: map[string]any{},
			want:   docql.Translation{SQL: "data"},
		},
		{
			name: "set-combined-multi-path",
			update: docql.D{
				{Key: "$set", Value: docql.D{
					{Key: "name", Value: "John"},
					{Key: "age", Value: int64(30)},
				}},
			},
			want: docql.Translation{
				SQL:    "json_set(data, '$.name', ?, '$.age', ?)",
				Params: []any{"John", int64(30)},
			},
		},
		{
			name:   "inc-coalesces-missing-to-zero",
			update: docql.D{{Key: "$inc", Value: docql.D{{Key: "count", Value: int64(1)}}}},
			want: docql.Translation{
				SQL:    "json_set(data, '$.count', COALESCE(json_extract(data,'$.count'),0) + ?)",
				Params: []any{int64(1)},
			},
		},
		{
			name:   "push-appends-via-json-insert",
			update: docql.D{{Key: "$push", Value: docql.D{{Key: "tags", Value: "new"}}}},
			want: docql.Translation{
				SQL:    "json_set(data, '$.tags', json_insert(COALESCE(json_extract(data,'$.tags'),'[]'), '$[#]', ?))",
				Params: []any{"new"},
			},
		},
		{
			name: "conflicting-set-and-unset-rejects",
			update: docql.D{
				{Key: "$set", Value: docql.D{{Key: "a", Value: int64(1)}}},
				{Key: "$unset", Value: docql.D{{Key: "a", Value: ""}}},
			},
			wantErrIs:       docql.ErrConflictingUpdate,
			wantErrContains: `path "a"`,
		},
		{
			name: "min-max-same-field-permitted",
			update: docql.D{
				{Key: "$min", Value: docql.D{{Key: "score", Value: int64(1)}}},
				{Key: "$max", Value: docql.D{{Key: "score", Value: int64(9)}}},
			},
		},
		{
			name:            "non-dollar-key-rejects",
			update:          docql.D{{Key: "name", Value: "John"}},
			wantErrIs:       docql.ErrInvalidOperator,
			wantErrContains: "must be an operator",
		},
		{
			name:            "unknown-operator-rejects",
			update:          docql.D{{Key: "$bogus", Value: docql.D{{Key: "a", Value: 1}}}},
			wantErrIs:       docql.ErrInvalidOperator,
			wantErrContains: "unknown update operator",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := docql.TranslateUpdate(tc.update)
			if tc.wantErrContains != "" || tc.wantErrIs != nil {
				require.Error(t, err)
				if tc.wantErrIs != nil {
					assert.ErrorIs(t, err, tc.wantErrIs)
				}
				assert.ErrorContains(t, err, tc.wantErrContains)
				return
			}
			require.NoError(t, err)
			if tc.want.SQL != "" {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

// Test_TranslatePipeline_matchSortLimit: match/sort/limit must appear in
// that document order in the rendered SQL.
func Test_TranslatePipeline_matchSortLimit(t *testing.T) {
	t.Parallel()
	got, err := docql.TranslatePipeline("users", []any{
		map[string]any{"$match": map[string]any{"status": "active"}},
		map[string]any{"$sort": map[string]any{"name": int64(1)}},
		map[string]any{"$limit": int64(10)},
	})
	require.NoError(t, err)
	assert.Contains(t, got.SQL, "FROM users")
	assert.Contains(t, got.SQL, "WHERE")
	assert.Contains(t, got.SQL, "ORDER BY")
	assert.Contains(t, got.SQL, "LIMIT")

	iWhere := indexOf(got.SQL, "WHERE")
	iOrder := indexOf(got.SQL, "ORDER BY")
	iLimit := indexOf(got.SQL, "LIMIT")
	assert.True(t, iWhere < iOrder)
	assert.True(t, iOrder < iLimit)
	assert.Equal(t, []any{"active", int64(10)}, got.Params)
}

func Test_TranslatePipeline_invalidCollectionName(t *testing.T) {
	t.Parallel()
	_, err := docql.TranslatePipeline("bad name", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, docql.ErrInvalidPath)
}

func Test_TranslatePipeline_unsupportedStage(t *testing.T) {
	t.Parallel()
	_, err := docql.TranslatePipeline("users", []any{
		map[string]any{"$text": map[string]any{"$search": "x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, docql.ErrUnsupported)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
