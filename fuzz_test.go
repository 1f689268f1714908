package docql_test

import (
	"encoding/json"
	"testing"

	"github.com/docql/docql"
)

// Fuzz_Translate feeds arbitrary JSON bytes through Translate, as a filter
// document once decoded, and checks the placeholder invariant: the number of "?"
// placeholders in the rendered SQL always equals len(Params), and a
// malformed document is rejected with an error rather than a panic.
func Fuzz_Translate(f *testing.F) {
	seeds := []string{
		`{}`,
		`{"name":"John","age":{"$gt":18}}`,
		`{"$or":[{"a":1},{"b":2}]}`,
		`{"$and":[]}`,
		`{"tags":{"$all":["a","b"]}}`,
		`{"items":{"$elemMatch":{"qty":{"$gt":10}}}}`,
		`{"$bogus":1}`,
		`{"a.b.c":1}`,
		`{"a":{"$regex":"("}}`,
		`not json at all`,
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		var filter map[string]any
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return
		}
		got, err := docql.Translate(filter)
		if err != nil {
			return
		}
		if countPlaceholders(got.SQL) != len(got.Params) {
			t.Fatalf("placeholder/param mismatch: sql=%q params=%v", got.SQL, got.Params)
		}
	})
}

// Fuzz_TranslateUpdate mirrors Fuzz_Translate for the update translator.
func Fuzz_TranslateUpdate(f *testing.F) {
	seeds := []string{
		`{}`,
		`{"$set":{"name":"John","age":30}}`,
		`{"$inc":{"count":1}}`,
		`{"$push":{"tags":"new"}}`,
		`{"$set":{"a":1},"$unset":{"a":""}}`,
		`{"$bogus":{"a":1}}`,
		`{"name":"John"}`,
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		var update map[string]any
		if err := json.Unmarshal([]byte(raw), &update); err != nil {
			return
		}
		got, err := docql.TranslateUpdate(update)
		if err != nil {
			return
		}
		if countPlaceholders(got.SQL) != len(got.Params) {
			t.Fatalf("placeholder/param mismatch: sql=%q params=%v", got.SQL, got.Params)
		}
	})
}

// Fuzz_TranslatePipeline mirrors Fuzz_Translate for the aggregation
// translator, fuzzing only the pipeline document; the collection name is
// fixed to a valid identifier so the fuzzer explores stage shapes rather
// than repeatedly rediscovering ErrInvalidPath.
func Fuzz_TranslatePipeline(f *testing.F) {
	seeds := []string{
		`[{"$match":{"status":"active"}},{"$sort":{"name":1}},{"$limit":10}]`,
		`[{"$count":"total"}]`,
		`[{"$group":{"_id":"$status","total":{"$sum":"$amount"}}}]`,
		`[{"$unwind":"$tags"}]`,
		`[{"$project":{"name":1}}]`,
		`[{"$text":{"$search":"x"}}]`,
		`[]`,
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		var pipeline []any
		if err := json.Unmarshal([]byte(raw), &pipeline); err != nil {
			return
		}
		got, err := docql.TranslatePipeline("things", pipeline)
		if err != nil {
			return
		}
		if countPlaceholders(got.SQL) != len(got.Params) {
			t.Fatalf("placeholder/param mismatch: sql=%q params=%v", got.SQL, got.Params)
		}
	})
}

func countPlaceholders(sql string) int {
	n := 0
	for _, r := range sql {
		if r == '?' {
			n++
		}
	}
	return n
}
