package docql

import (
	"fmt"
	"regexp"
	"strings"
)

// rowColumn is the column name every query predicate is compiled against.
const rowColumn = "data"

// Translate compiles a filter document into a boolean predicate over the
// row column data. An empty filter yields the predicate "1=1"
// with zero params.
func Translate(filter any, opts ...Option) (Translation, error) {
	const op = "docql.Translate"
	o, err := getOpts(opts...)
	if err != nil {
		return Translation{}, err
	}
	obj, err := toObject(filter)
	if err != nil {
		return Translation{}, fmt.Errorf("%s: %w", op, err)
	}
	qc := &queryCompiler{opts: o}
	return qc.compileFilter(obj, rowColumn)
}

// maxLogicalNestingDepth bounds how deeply $and/$or/$nor/$not may nest,
// the operator-visit stack's purpose: a pathologically
// deep compound tree is rejected rather than recursed into without bound.
const maxLogicalNestingDepth = 64

type queryCompiler struct {
	opts    options
	visited stack[string]
}

var logicalCompoundOps = map[string]string{
	"$and": "AND",
	"$or":  "OR",
	"$nor": "OR", // $nor is NOT ( ... OR ... )
}

// compileFilter compiles a filter object against root, joining the implicit
// AND of its top-level field clauses after dispatching any logical
// compounds or root-level operators.
func (qc *queryCompiler) compileFilter(obj *Object, root string) (Translation, error) {
	const op = "docql.compileFilter"
	if obj.Len() == 0 {
		return Translation{SQL: "1=1"}, nil
	}

	var clauses []Translation
	for _, key := range obj.Keys() {
		val, _ := obj.Get(key)
		var t Translation
		var err error
		switch {
		case key == "$not":
			t, err = qc.compileTopLevelNot(val, root)
		case key == "$expr":
			t, err = qc.compileExprClause(val, root)
		case key == "$text" || key == "$where":
			err = wrapErrf(op, ErrUnsupported, "%s is not supported by this core", key)
		case logicalCompoundOps[key] != "":
			t, err = qc.compileLogicalCompound(key, val, root)
		case strings.HasPrefix(key, "$"):
			err = wrapErrf(op, ErrInvalidOperator, "unknown top-level operator %q", key)
		default:
			t, err = qc.compileFieldClause(key, val, root)
		}
		if err != nil {
			return Translation{}, err
		}
		clauses = append(clauses, t)
	}

	return joinClauses(clauses, "AND"), nil
}

// joinClauses concatenates clause SQL with the given boolean joiner,
// threading params depth-first left-to-right. A single clause is
// returned unwrapped; two or more are wrapped in one enclosing paren pair.
func joinClauses(clauses []Translation, joiner string) Translation {
	if len(clauses) == 1 {
		return clauses[0]
	}
	var sqlParts []string
	var params []any
	for _, c := range clauses {
		sqlParts = append(sqlParts, c.SQL)
		params = append(params, c.Params...)
	}
	return Translation{
		SQL:    "(" + strings.Join(sqlParts, " "+joiner+" ") + ")",
		Params: params,
	}
}

func (qc *queryCompiler) compileLogicalCompound(key string, val Value, root string) (Translation, error) {
	const op = "docql.compileLogicalCompound"
	arr, ok := toArray(val)
	if !ok {
		return Translation{}, wrapErrf(op, ErrInvalidArgument, "%s requires an array argument", key)
	}
	if len(arr.Values) == 0 {
		return Translation{}, wrapErrf(op, ErrInvalidArgument, "%s must not be empty", key)
	}
	if qc.visited.len() >= maxLogicalNestingDepth {
		return Translation{}, wrapErrf(op, ErrInvalidArgument, "%s nesting exceeds max depth %d", key, maxLogicalNestingDepth)
	}
	qc.visited.push(key)
	defer qc.visited.pop()

	var clauses []Translation
	for i, sub := range arr.Values {
		subObj, err := toObject(sub)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "%s[%d]: %v", key, i, err)
		}
		t, err := qc.compileFilter(subObj, root)
		if err != nil {
			return Translation{}, err
		}
		clauses = append(clauses, t)
	}

	joiner := logicalCompoundOps[key]
	joined := joinClauses(clauses, joiner)
	// joinClauses leaves a single clause unwrapped; $and/$or/$nor always
	// wrap, even for one member, since they are explicit compounds.
	if len(clauses) == 1 {
		joined = Translation{SQL: "(" + joined.SQL + ")", Params: joined.Params}
	}
	if key == "$nor" {
		return Translation{SQL: "NOT " + joined.SQL, Params: joined.Params}, nil
	}
	return joined, nil
}

func (qc *queryCompiler) compileTopLevelNot(val Value, root string) (Translation, error) {
	const op = "docql.compileTopLevelNot"
	if qc.visited.len() >= maxLogicalNestingDepth {
		return Translation{}, wrapErrf(op, ErrInvalidArgument, "$not nesting exceeds max depth %d", maxLogicalNestingDepth)
	}
	obj, err := toObject(val)
	if err != nil {
		return Translation{}, wrapErrf(op, ErrInvalidArgument, "$not: %v", err)
	}
	qc.visited.push("$not")
	defer qc.visited.pop()
	inner, err := qc.compileFilter(obj, root)
	if err != nil {
		return Translation{}, err
	}
	return Translation{SQL: "NOT (" + inner.SQL + ")", Params: inner.Params}, nil
}

// compileFieldClause handles the field-clause case: a non-operator key is
// a FieldPath; its value is either a scalar (implicit equality) or an
// object whose keys are field-level operators.
func (qc *queryCompiler) compileFieldClause(key string, val Value, root string) (Translation, error) {
	const op = "docql.compileFieldClause"
	path, err := ParsePath(key)
	if err != nil {
		return Translation{}, err
	}
	if len(path) > qc.opts.withMaxPathDepth {
		return Translation{}, wrapErrf(op, ErrInvalidPath, "path %q exceeds max depth %d", key, qc.opts.withMaxPathDepth)
	}
	if err := checkFieldValidator(qc.opts, key); err != nil {
		return Translation{}, err
	}
	jsonPath, err := ToJSONPath(path)
	if err != nil {
		return Translation{}, err
	}
	target := jsonExtract(root, jsonPath)

	if obj, ok := asOperatorObject(val); ok {
		return qc.compileOperatorObject(target, obj)
	}
	return scalarEqualityPredicate(target, val, false)
}

// asOperatorObject reports whether v is a document whose keys all begin
// with "$", in which case it is a field-level operator object rather than a
// literal value to compare against.
func asOperatorObject(v Value) (*Object, bool) {
	obj, err := toObject(v)
	if err != nil || obj.Len() == 0 {
		return nil, false
	}
	for _, k := range obj.Keys() {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return obj, true
}

// compileOperatorObject compiles {field: {$op: arg, ...}} against target,
// ANDing multiple field-level operators together into one implicit AND.
func (qc *queryCompiler) compileOperatorObject(target string, obj *Object) (Translation, error) {
	const op = "docql.compileOperatorObject"
	var clauses []Translation
	for _, key := range obj.Keys() {
		if key == "$options" {
			continue // consumed by $regex
		}
		val, _ := obj.Get(key)

		if key == "$not" {
			innerObj, err := toObject(val)
			if err != nil {
				return Translation{}, wrapErrf(op, ErrInvalidArgument, "$not: %v", err)
			}
			inner, err := qc.compileOperatorObject(target, innerObj)
			if err != nil {
				return Translation{}, err
			}
			clauses = append(clauses, Translation{
				SQL:    "(NOT (" + inner.SQL + ") OR " + target + " IS NULL)",
				Params: inner.Params,
			})
			continue
		}

		handler, ok := fieldOperators[key]
		if !ok {
			return Translation{}, wrapErrf(op, ErrInvalidOperator, "unknown field operator %q", key)
		}
		t, err := handler(fieldOpCtx{target: target, value: val, obj: obj, opts: qc.opts})
		if err != nil {
			return Translation{}, err
		}
		clauses = append(clauses, t)
	}
	if len(clauses) == 0 {
		return Translation{}, wrapErr(op, ErrInvalidArgument, "operator object has no operators")
	}
	return joinClauses(clauses, "AND"), nil
}

// fieldOpCtx carries everything a field-level operator handler needs: the
// already-built target SQL expression (json_extract(root,'<path>') for a
// normal field clause, or the bare iteration variable for an $elemMatch
// direct-operator clause), the operator's argument value, and the
// enclosing operator object (so $regex can see a sibling $options key).
type fieldOpCtx struct {
	target string
	value  Value
	obj    *Object
	opts   options
}

type fieldOperatorFunc func(fieldOpCtx) (Translation, error)

// fieldOperators is the query translator's field-operator table, a flat
// associative lookup seeded once rather than a dispatch hierarchy. It is
// distinct from the aggregation expression operator table in aggregate.go
// even where names coincide, because emission rules differ.
var fieldOperators map[string]fieldOperatorFunc

func init() {
	fieldOperators = map[string]fieldOperatorFunc{
		"$eq": func(c fieldOpCtx) (Translation, error) {
			return scalarEqualityPredicate(c.target, c.value, false)
		},
		"$ne": func(c fieldOpCtx) (Translation, error) {
			return scalarEqualityPredicate(c.target, c.value, true)
		},
		"$gt":  comparisonOperator(">"),
		"$gte": comparisonOperator(">="),
		"$lt":  comparisonOperator("<"),
		"$lte": comparisonOperator("<="),
		"$in": func(c fieldOpCtx) (Translation, error) {
			return membershipPredicate(c.target, c.value, false)
		},
		"$nin": func(c fieldOpCtx) (Translation, error) {
			return membershipPredicate(c.target, c.value, true)
		},
		"$exists": existsOperator,
		"$type":   typeOperator,
		"$regex":  regexOperator,
		"$mod":    modOperator,
		"$size":   sizeOperator,
		"$all":    allOperator,
		"$elemMatch": func(c fieldOpCtx) (Translation, error) {
			return elemMatchOperator(c)
		},
	}
}

const (
	opComparison = "docql.comparisonOperator"
	opMembership = "docql.membershipPredicate"
	opExists     = "docql.$exists"
	opType       = "docql.$type"
	opRegex      = "docql.$regex"
	opMod        = "docql.$mod"
	opSize       = "docql.$size"
	opAll        = "docql.$all"
	opElemMatch  = "docql.$elemMatch"
)

// scalarEqualityPredicate implements the implicit-equality / $eq / $ne
// emission shape. Comparisons with a missing field rely on SQL's native
// NULL propagation for $eq (NULL = ? is NULL, i.e. false in a WHERE clause,
// which already matches the "return false on missing" requirement) but
// $ne is given an explicit "OR target IS NULL" clause, since native NULL
// propagation would otherwise make "x != ?" evaluate to NULL (false) for a
// missing field, and $ne is the documented exception that must match
// missing fields.
func scalarEqualityPredicate(target string, value Value, negate bool) (Translation, error) {
	sqlOp := "="
	if negate {
		sqlOp = "!="
	}
	enc, err := encodeLiteral(value)
	if err != nil {
		return Translation{}, wrapErrf(opComparison, ErrInvalidArgument, "%v", err)
	}
	cmp := Translation{SQL: target + " " + sqlOp + " " + enc.SQL, Params: enc.Params}
	if !negate {
		return cmp, nil
	}
	return Translation{
		SQL:    "(" + cmp.SQL + " OR " + target + " IS NULL)",
		Params: cmp.Params,
	}, nil
}

func comparisonOperator(sqlOp string) fieldOperatorFunc {
	return func(c fieldOpCtx) (Translation, error) {
		enc, err := encodeLiteral(c.value)
		if err != nil {
			return Translation{}, wrapErrf(opComparison, ErrInvalidArgument, "%v", err)
		}
		return Translation{SQL: c.target + " " + sqlOp + " " + enc.SQL, Params: enc.Params}, nil
	}
}

// membershipPredicate implements $in / $nin. An empty $in list is always
// false; an empty $nin list is always true, which
// composes correctly with $nin's missing-field exception.
func membershipPredicate(target string, value Value, negate bool) (Translation, error) {
	arr, ok := toArray(value)
	if !ok {
		return Translation{}, wrapErrf(opMembership, ErrInvalidArgument, "requires an array argument, got %T", value)
	}
	if len(arr.Values) == 0 {
		if negate {
			return Translation{SQL: "(1=1)"}, nil
		}
		return Translation{SQL: "(1=0)"}, nil
	}

	var placeholders []string
	var params []any
	for _, v := range arr.Values {
		enc, err := encodeLiteral(v)
		if err != nil {
			return Translation{}, wrapErrf(opMembership, ErrInvalidArgument, "%v", err)
		}
		placeholders = append(placeholders, enc.SQL)
		params = append(params, enc.Params...)
	}

	in := target + " IN (" + strings.Join(placeholders, ", ") + ")"
	if !negate {
		return Translation{SQL: in, Params: params}, nil
	}
	return Translation{
		SQL:    "(" + target + " NOT IN (" + strings.Join(placeholders, ", ") + ") OR " + target + " IS NULL)",
		Params: params,
	}, nil
}

func existsOperator(c fieldOpCtx) (Translation, error) {
	want, ok := c.value.(bool)
	if !ok {
		return Translation{}, wrapErrf(opExists, ErrInvalidArgument, "requires a boolean argument, got %T", c.value)
	}
	if want {
		return Translation{SQL: c.target + " IS NOT NULL"}, nil
	}
	return Translation{SQL: c.target + " IS NULL"}, nil
}

// bsonTypeAliases maps the small enum of type names this core supports to
// the host store's json_type() result strings (SQLite JSON1 naming).
var bsonTypeAliases = map[string][]string{
	"double": {"real", "integer"},
	"number": {"real", "integer"},
	"int":    {"integer"},
	"long":   {"integer"},
	"string": {"text"},
	"object": {"object"},
	"array":  {"array"},
	"bool":   {"true", "false"},
	"null":   {"null"},
}

func typeOperator(c fieldOpCtx) (Translation, error) {
	name, ok := c.value.(string)
	if !ok {
		return Translation{}, wrapErrf(opType, ErrInvalidArgument, "requires a string argument, got %T", c.value)
	}
	aliases, ok := bsonTypeAliases[name]
	if !ok {
		return Translation{}, wrapErrf(opType, ErrInvalidArgument, "unsupported type name %q", name)
	}
	typeExpr := "json_type(" + c.target + ")"
	if len(aliases) == 1 {
		return Translation{SQL: typeExpr + " = ?", Params: []any{aliases[0]}}, nil
	}
	var placeholders []string
	var params []any
	for _, a := range aliases {
		placeholders = append(placeholders, "?")
		params = append(params, a)
	}
	return Translation{SQL: typeExpr + " IN (" + strings.Join(placeholders, ", ") + ")", Params: params}, nil
}

func regexOperator(c fieldOpCtx) (Translation, error) {
	var pattern, options string
	switch v := c.value.(type) {
	case string:
		pattern = v
	default:
		return Translation{}, wrapErrf(opRegex, ErrInvalidArgument, "requires a string pattern, got %T", c.value)
	}
	if optsVal, ok := c.obj.Get("$options"); ok {
		o, ok := optsVal.(string)
		if !ok {
			return Translation{}, wrapErrf(opRegex, ErrInvalidArgument, "$options must be a string")
		}
		options = o
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return Translation{}, wrapErrf(opRegex, ErrInvalidArgument, "invalid regex %q: %v", pattern, err)
	}
	if strings.Contains(options, "i") {
		pattern = "(?i)" + pattern
	}
	return Translation{SQL: c.target + " REGEXP ?", Params: []any{pattern}}, nil
}

func modOperator(c fieldOpCtx) (Translation, error) {
	arr, ok := toArray(c.value)
	if !ok || len(arr.Values) != 2 {
		return Translation{}, wrapErr(opMod, ErrInvalidArgument, "$mod requires a [divisor, remainder] array")
	}
	divisor, err := encodeLiteral(arr.Values[0])
	if err != nil {
		return Translation{}, wrapErrf(opMod, ErrInvalidArgument, "%v", err)
	}
	remainder, err := encodeLiteral(arr.Values[1])
	if err != nil {
		return Translation{}, wrapErrf(opMod, ErrInvalidArgument, "%v", err)
	}
	return Translation{
		SQL:    "(" + c.target + " % " + divisor.SQL + ") = " + remainder.SQL,
		Params: append(append([]any{}, divisor.Params...), remainder.Params...),
	}, nil
}

func sizeOperator(c fieldOpCtx) (Translation, error) {
	enc, err := encodeLiteral(c.value)
	if err != nil {
		return Translation{}, wrapErrf(opSize, ErrInvalidArgument, "%v", err)
	}
	return Translation{SQL: "json_array_length(" + c.target + ") = " + enc.SQL, Params: enc.Params}, nil
}

func allOperator(c fieldOpCtx) (Translation, error) {
	arr, ok := toArray(c.value)
	if !ok {
		return Translation{}, wrapErr(opAll, ErrInvalidArgument, "$all requires an array argument")
	}
	if len(arr.Values) == 0 {
		return Translation{SQL: "(1=1)"}, nil
	}
	var clauses []Translation
	for _, v := range arr.Values {
		enc, err := encodeLiteral(v)
		if err != nil {
			return Translation{}, wrapErrf(opAll, ErrInvalidArgument, "%v", err)
		}
		clauses = append(clauses, Translation{
			SQL:    "EXISTS (SELECT 1 FROM json_each(" + c.target + ") WHERE value = " + enc.SQL + ")",
			Params: enc.Params,
		})
	}
	return joinClauses(clauses, "AND"), nil
}

func elemMatchOperator(c fieldOpCtx) (Translation, error) {
	obj, err := toObject(c.value)
	if err != nil {
		return Translation{}, wrapErrf(opElemMatch, ErrInvalidArgument, "%v", err)
	}
	qc := &queryCompiler{opts: c.opts}
	inner, err := qc.compileElementScope(obj, "value")
	if err != nil {
		return Translation{}, err
	}
	return Translation{
		SQL:    "EXISTS (SELECT 1 FROM json_each(" + c.target + ") WHERE " + inner.SQL + ")",
		Params: inner.Params,
	}, nil
}

// compileElementScope compiles the sub-filter inside an $elemMatch, where
// keys beginning with "$" that name a field operator apply directly to the
// iteration value (rather than to a nested json_extract path), and
// non-operator keys still address a nested field of the iterated element.
func (qc *queryCompiler) compileElementScope(obj *Object, valueVar string) (Translation, error) {
	const op = "docql.compileElementScope"
	if obj.Len() == 0 {
		return Translation{SQL: "1=1"}, nil
	}
	var clauses []Translation
	for _, key := range obj.Keys() {
		val, _ := obj.Get(key)
		if logicalCompoundOps[key] != "" {
			t, err := qc.compileLogicalCompoundIn(key, val, valueVar)
			if err != nil {
				return Translation{}, err
			}
			clauses = append(clauses, t)
			continue
		}
		if key == "$options" {
			continue
		}
		if strings.HasPrefix(key, "$") {
			handler, ok := fieldOperators[key]
			if !ok {
				return Translation{}, wrapErrf(op, ErrInvalidOperator, "unknown operator %q in $elemMatch", key)
			}
			t, err := handler(fieldOpCtx{target: valueVar, value: val, obj: obj, opts: qc.opts})
			if err != nil {
				return Translation{}, err
			}
			clauses = append(clauses, t)
			continue
		}
		t, err := qc.compileFieldClause(key, val, valueVar)
		if err != nil {
			return Translation{}, err
		}
		clauses = append(clauses, t)
	}
	return joinClauses(clauses, "AND"), nil
}

func (qc *queryCompiler) compileLogicalCompoundIn(key string, val Value, valueVar string) (Translation, error) {
	const op = "docql.compileLogicalCompoundIn"
	arr, ok := toArray(val)
	if !ok || len(arr.Values) == 0 {
		return Translation{}, wrapErrf(op, ErrInvalidArgument, "%s requires a non-empty array argument", key)
	}
	var clauses []Translation
	for _, sub := range arr.Values {
		obj, err := toObject(sub)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
		}
		t, err := qc.compileElementScope(obj, valueVar)
		if err != nil {
			return Translation{}, err
		}
		clauses = append(clauses, t)
	}
	joiner := logicalCompoundOps[key]
	joined := joinClauses(clauses, joiner)
	joined = Translation{SQL: "(" + joined.SQL + ")", Params: joined.Params}
	if key == "$nor" {
		return Translation{SQL: "NOT " + joined.SQL, Params: joined.Params}, nil
	}
	return joined, nil
}

// compileExprClause compiles $expr, reusing the aggregation expression
// sub-language since a $expr argument is exactly an expression
// tree rooted at the filter's row.
func (qc *queryCompiler) compileExprClause(val Value, root string) (Translation, error) {
	e, err := compileAggExpression(val, root)
	if err != nil {
		return Translation{}, err
	}
	return renderExpr(e)
}

// jsonExtract renders the canonical json_extract(root,'<path>') call used
// throughout the translators. path has already passed ToJSONPath, so every
// rune in it is verified safe to inline.
func jsonExtract(root, path string) string {
	return "json_extract(" + root + ",'" + path + "')"
}

// toArray normalises a Value into *Array, accepting both the native *Array
// type and a plain []any (the shape produced by decoding JSON into `any`).
func toArray(v Value) (*Array, bool) {
	switch a := v.(type) {
	case *Array:
		if a == nil {
			return NewArray(), true
		}
		return a, true
	case []any:
		return NewArray(a...), true
	default:
		return nil, false
	}
}
