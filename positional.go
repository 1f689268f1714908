package docql

import (
	"strconv"
	"strings"
)

// PositionalContext is the auxiliary state the caller threads alongside an
// update document so the translator can resolve references to matched array
// elements. It is an explicit parameter, not ambient state.
type PositionalContext struct {
	// MatchedIndex is the array index bound by a bare "$" token when the
	// path contains exactly one array hop before it.
	MatchedIndex int
	// NestedMatchedIndex maps the dotted prefix path up to (not including)
	// a "$" token to its matched index, for paths with more than one array
	// hop. A path whose prefix is absent from this map falls back to
	// MatchedIndex.
	NestedMatchedIndex map[string]int
	// ArrayFilters resolves "$[ident]" tokens by identifier.
	ArrayFilters []ArrayFilter
}

// ArrayFilter binds an identifier used in a "$[ident]" path token to the
// condition document elements of the array must satisfy to be mutated.
type ArrayFilter struct {
	Identifier string
	Condition  any
}

func (c *PositionalContext) filterByIdent(ident string) (ArrayFilter, bool) {
	if c == nil {
		return ArrayFilter{}, false
	}
	for _, f := range c.ArrayFilters {
		if f.Identifier == ident {
			return f, true
		}
	}
	return ArrayFilter{}, false
}

func (c *PositionalContext) matchedIndex(prefix FieldPath) (int, bool) {
	if c == nil {
		return 0, false
	}
	if c.NestedMatchedIndex != nil {
		if idx, ok := c.NestedMatchedIndex[dottedPrefix(prefix)]; ok {
			return idx, true
		}
	}
	if len(prefix) > 0 {
		return c.MatchedIndex, true
	}
	return c.MatchedIndex, true
}

func dottedPrefix(p FieldPath) string {
	var parts []string
	for _, seg := range p {
		switch seg.Kind {
		case SegmentName:
			parts = append(parts, seg.Name)
		case SegmentIndex:
			parts = append(parts, strconv.Itoa(seg.Index))
		}
	}
	return strings.Join(parts, ".")
}

// rewriteKind distinguishes the two sub-query rewrites a positional token
// outside "$" can demand.
type rewriteKind int

const (
	rewriteAll rewriteKind = iota
	rewriteFiltered
)

// arrayRewrite describes a pending array-rebuild: ArrayPath addresses the
// array field itself (segments strictly before the positional token);
// ElemSuffix addresses the field within each element that the update
// operator actually mutates. An ElemSuffix that still contains a positional
// token is rejected by compileArrayRewriteCombine with ErrUnsupported; it is
// not resolved recursively.
type arrayRewrite struct {
	ArrayPath  FieldPath
	Kind       rewriteKind
	Ident      string
	ElemSuffix FieldPath
}

// resolvedTarget is the result of planning one FieldPath against a
// PositionalContext: either path names a fully concrete location (every "$"
// token replaced by its matched index), or the first positional token that
// cannot be resolved to a single index demands a sub-query rewrite.
type resolvedTarget struct {
	Path    FieldPath
	Rewrite *arrayRewrite
}

// planPath resolves the positional tokens in path against ctx.
// Multiple positional tokens in one path are handled left to right: a bare
// "$" always resolves to a concrete index (so scanning continues past it);
// the first "$[]" or "$[ident]" encountered stops the scan and produces a
// rewrite whose ElemSuffix still carries any remaining tokens; a later
// positional token in that suffix makes compileArrayRewriteCombine fail
// with ErrUnsupported.
func planPath(path FieldPath, ctx *PositionalContext) (*resolvedTarget, error) {
	const op = "docql.planPath"
	var resolved FieldPath
	for i, seg := range path {
		switch seg.Kind {
		case SegmentPositionalMatched:
			idx, ok := ctx.matchedIndex(resolved)
			if !ok {
				return nil, wrapErr(op, ErrUnresolvedPositional, "no matched index for \"$\" token")
			}
			resolved = append(resolved, Segment{Kind: SegmentIndex, Index: idx})
		case SegmentPositionalAll:
			return &resolvedTarget{
				Path: resolved,
				Rewrite: &arrayRewrite{
					ArrayPath:  resolved,
					Kind:       rewriteAll,
					ElemSuffix: path[i+1:],
				},
			}, nil
		case SegmentPositionalFiltered:
			if _, ok := ctx.filterByIdent(seg.Name); !ok {
				return nil, wrapErrf(op, ErrUnresolvedPositional, "no array filter bound for identifier %q", seg.Name)
			}
			return &resolvedTarget{
				Path: resolved,
				Rewrite: &arrayRewrite{
					ArrayPath:  resolved,
					Kind:       rewriteFiltered,
					Ident:      seg.Name,
					ElemSuffix: path[i+1:],
				},
			}, nil
		default:
			resolved = append(resolved, seg)
		}
	}
	return &resolvedTarget{Path: resolved}, nil
}

// hasPositionalToken reports whether path contains any "$"-family segment.
func hasPositionalToken(path FieldPath) bool {
	for _, seg := range path {
		if seg.Kind != SegmentName && seg.Kind != SegmentIndex {
			return true
		}
	}
	return false
}

// compileArrayRewriteCombine builds the table-expression rebuild for a
// "$[]" or "$[ident]" target: every matching element is
// replaced by whatever combine returns for it, every other element is
// passed through unchanged. combine receives elemRead (the SQL expression
// reading the element's mutated field, "value" itself when ElemSuffix is
// empty) and elemSuffixJSONPath (empty when the rewrite targets the whole
// element) and returns the full replacement element expression - callers
// that only need to replace the suffix field, not the whole element, wrap
// their own result in json_set(value, '<suffix>', ...) themselves.
//
// Reads always address the literal "data" column rather than prev, so
// prev's text is embedded exactly once, as the json_set write target; this
// keeps the positional correspondence between "?" and params intact without
// duplicating prev's own placeholders. Those placeholders render first in
// the composed SQL, so prev.Params lead the returned parameter list.
func compileArrayRewriteCombine(prev Translation, rw *arrayRewrite, ctx *PositionalContext, combine func(elemRead, elemSuffixJSONPath string) (Translation, error)) (Translation, error) {
	const op = "docql.compileArrayRewriteCombine"
	arrayJSONPath, err := ToJSONPath(rw.ArrayPath)
	if err != nil {
		return Translation{}, err
	}

	elemRead := "value"
	var elemSuffixJSONPath string
	if len(rw.ElemSuffix) > 0 {
		if hasPositionalToken(rw.ElemSuffix) {
			return Translation{}, wrapErr(op, ErrUnsupported, "nested positional tokens within an array filter element are not supported")
		}
		p, err := ToJSONPath(rw.ElemSuffix)
		if err != nil {
			return Translation{}, err
		}
		elemSuffixJSONPath = p
		elemRead = jsonExtract("value", p)
	}

	newElem, err := combine(elemRead, elemSuffixJSONPath)
	if err != nil {
		return Translation{}, err
	}

	var predSQL string
	var predParams []any
	switch rw.Kind {
	case rewriteAll:
		predSQL = "1=1"
	case rewriteFiltered:
		filt, ok := ctx.filterByIdent(rw.Ident)
		if !ok {
			return Translation{}, wrapErrf(op, ErrUnresolvedPositional, "no array filter bound for identifier %q", rw.Ident)
		}
		condObj, err := toObject(filt.Condition)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "array filter %q condition: %v", rw.Ident, err)
		}
		qc := &queryCompiler{opts: getDefaultOptions()}
		pred, err := qc.compileElementScope(condObj, "value")
		if err != nil {
			return Translation{}, err
		}
		predSQL, predParams = pred.SQL, pred.Params
	}

	var params []any
	params = append(params, prev.Params...)
	params = append(params, predParams...)
	params = append(params, newElem.Params...)

	sql := "json_set(" + prev.SQL + ", '" + arrayJSONPath + "', (SELECT json_group_array(CASE WHEN " +
		predSQL + " THEN " + newElem.SQL + " ELSE value END) FROM json_each(json_extract(data,'" + arrayJSONPath + "'))))"
	return Translation{SQL: sql, Params: params}, nil
}

// compileArrayRewrite is compileArrayRewriteCombine specialized for
// operators that produce a replacement value for the mutated field itself
// (mutate receives the current value's read expression and returns its
// replacement), wrapping it back into the element with json_set when
// ElemSuffix addresses a field narrower than the whole element.
func compileArrayRewrite(prev Translation, rw *arrayRewrite, ctx *PositionalContext, mutate func(readExpr string) (Translation, error)) (Translation, error) {
	return compileArrayRewriteCombine(prev, rw, ctx, func(elemRead, elemSuffixJSONPath string) (Translation, error) {
		newVal, err := mutate(elemRead)
		if err != nil {
			return Translation{}, err
		}
		if elemSuffixJSONPath == "" {
			return newVal, nil
		}
		return Translation{
			SQL:    "json_set(value, '" + elemSuffixJSONPath + "', " + newVal.SQL + ")",
			Params: newVal.Params,
		}, nil
	})
}

// compileArrayUnsetRewrite builds the array-rebuild for "$unset" on a
// "$[]"/"$[ident]" target: the addressed field is removed from each
// matching element (json_remove on the suffix), or the whole element is
// replaced with a JSON null when the positional token addresses the
// element directly, mirroring the document-level $unset semantics.
func compileArrayUnsetRewrite(prev Translation, rw *arrayRewrite, ctx *PositionalContext) (Translation, error) {
	return compileArrayRewriteCombine(prev, rw, ctx, func(_ string, elemSuffixJSONPath string) (Translation, error) {
		if elemSuffixJSONPath == "" {
			return Translation{SQL: "json('null')"}, nil
		}
		return Translation{SQL: "json_remove(value, '" + elemSuffixJSONPath + "')"}, nil
	})
}

// sameArrayTarget reports whether two rewrites address the same matched
// array (same path, same selection kind and, for filtered selections, the
// same bound identifier), the only shape "$rename" can satisfy with a
// single sub-query rebuild.
func sameArrayTarget(a, b *arrayRewrite) bool {
	if a.Kind != b.Kind || len(a.ArrayPath) != len(b.ArrayPath) {
		return false
	}
	for i := range a.ArrayPath {
		if a.ArrayPath[i] != b.ArrayPath[i] {
			return false
		}
	}
	return a.Kind != rewriteFiltered || a.Ident == b.Ident
}
