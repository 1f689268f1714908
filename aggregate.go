package docql

import (
	"fmt"
	"strconv"
	"strings"
)

// supportedStages is the fixed set of pipeline stages this core compiles.
var supportedStages = map[string]bool{
	"$match": true, "$project": true, "$sort": true, "$limit": true,
	"$skip": true, "$count": true, "$group": true, "$unwind": true,
	"$lookup": true, "$addFields": true, "$set": true, "$replaceRoot": true,
	"$sample": true,
}

// TranslatePipeline compiles an ordered aggregation pipeline into one
// composed SQL statement over collection.
func TranslatePipeline(collection string, pipeline []any, opts ...Option) (Translation, error) {
	const op = "docql.TranslatePipeline"
	o, err := getOpts(opts...)
	if err != nil {
		return Translation{}, err
	}
	if !ValidateName(collection) {
		return Translation{}, wrapErrf(op, ErrInvalidPath, "invalid collection name %q", collection)
	}

	acc := newPipelineAccum(collection)
	ac := &aggCompiler{opts: o}
	for i, raw := range pipeline {
		stageObj, err := toObject(raw)
		if err != nil || stageObj.Len() != 1 {
			return Translation{}, wrapErrf(op, ErrInvalidStage, "pipeline[%d] must be a single-key stage document", i)
		}
		name := stageObj.Keys()[0]
		if !supportedStages[name] {
			return Translation{}, wrapErrf(op, ErrUnsupported, "unsupported stage %q", name)
		}
		arg, _ := stageObj.Get(name)
		if err := ac.applyStage(acc, name, arg); err != nil {
			return Translation{}, err
		}
	}
	return acc.render(), nil
}

// pipelineAccum is the SQL shape the translator refines or wraps at each
// stage, conceptually "SELECT <cols> FROM <source> WHERE <pred> <group-by>
// <order-by> <limit>".
type pipelineAccum struct {
	selectCols   string
	selectParams []any
	from         string
	fromParams   []any
	where        []Translation
	groupBy      string
	orderBy      string
	limit        *int64
	skip         int64
	projected    bool
}

func newPipelineAccum(collection string) *pipelineAccum {
	return &pipelineAccum{selectCols: "data", from: collection}
}

// render composes the accumulator into one Translation, with parameters in
// the left-to-right text order of the rendered statement: select list,
// source, predicate, order-by, limit/offset.
func (a *pipelineAccum) render() Translation {
	var b strings.Builder
	var params []any

	b.WriteString("SELECT ")
	b.WriteString(a.selectCols)
	params = append(params, a.selectParams...)
	b.WriteString(" FROM ")
	b.WriteString(a.from)
	params = append(params, a.fromParams...)

	if len(a.where) > 0 {
		var parts []string
		for _, w := range a.where {
			parts = append(parts, w.SQL)
			params = append(params, w.Params...)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(parts, " AND "))
	}
	if a.groupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(a.groupBy)
	}
	if a.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(a.orderBy)
	}
	if a.limit != nil {
		b.WriteString(" LIMIT ?")
		params = append(params, *a.limit)
	}
	if a.skip > 0 {
		if a.limit == nil {
			b.WriteString(" LIMIT -1")
		}
		b.WriteString(" OFFSET ?")
		params = append(params, a.skip)
	}
	return Translation{SQL: b.String(), Params: params}
}

// wrap folds the accumulator's current SELECT into a sub-select aliased t,
// re-exposing its output column as "data" so downstream stages keep
// addressing a stable name, and resets refinement state for the new shape.
func (a *pipelineAccum) wrap() {
	inner := a.render()
	a.from = "(" + inner.SQL + ") AS t"
	a.fromParams = inner.Params
	a.selectCols = "t.data AS data"
	a.selectParams = nil
	a.where = nil
	a.groupBy = ""
	a.orderBy = ""
	a.limit = nil
	a.skip = 0
	a.projected = false
}

type aggCompiler struct {
	opts options
}

func (ac *aggCompiler) applyStage(acc *pipelineAccum, name string, arg Value) error {
	switch name {
	case "$match":
		return ac.applyMatch(acc, arg)
	case "$sort":
		return ac.applySort(acc, arg)
	case "$limit":
		return ac.applyLimit(acc, arg)
	case "$skip":
		return ac.applySkip(acc, arg)
	case "$count":
		return ac.applyCount(acc, arg)
	case "$group":
		return ac.applyGroup(acc, arg)
	case "$unwind":
		return ac.applyUnwind(acc, arg)
	case "$lookup":
		return ac.applyLookup(acc, arg)
	case "$project":
		return ac.applyProject(acc, arg)
	case "$addFields", "$set":
		return ac.applyAddFields(acc, arg)
	case "$replaceRoot":
		return ac.applyReplaceRoot(acc, arg)
	case "$sample":
		return ac.applySample(acc, arg)
	default:
		return wrapErrf("docql.TranslatePipeline", ErrInvalidStage, "unhandled stage %q", name)
	}
}

func (ac *aggCompiler) applyMatch(acc *pipelineAccum, arg Value) error {
	if acc.projected {
		acc.wrap()
	}
	matchOpts := []Option{WithMaxPathDepth(ac.opts.withMaxPathDepth)}
	if ac.opts.withFieldValidator != nil {
		matchOpts = append(matchOpts, WithFieldValidator(ac.opts.withFieldValidator))
	}
	filter, err := Translate(arg, matchOpts...)
	if err != nil {
		return err
	}
	acc.where = append(acc.where, filter)
	return nil
}

func (ac *aggCompiler) applySort(acc *pipelineAccum, arg Value) error {
	const op = "docql.$sort"
	obj, err := toObject(arg)
	if err != nil {
		return wrapErrf(op, ErrInvalidStage, "%v", err)
	}
	// A sort after a projection or group must address the stage's output
	// document, not the pre-projection column, so the shape is wrapped
	// first and the sort refines the new outer shape.
	if acc.projected {
		acc.wrap()
	}
	var parts []string
	for _, key := range obj.Keys() {
		dir, _ := obj.Get(key)
		n, ok := asInt(dir)
		if !ok || (n != 1 && n != -1) {
			return wrapErrf(op, ErrInvalidStage, "$sort.%s must be 1 or -1", key)
		}
		path, err := ParsePath(key)
		if err != nil {
			return err
		}
		if err := checkFieldValidator(ac.opts, key); err != nil {
			return err
		}
		jp, err := ToJSONPath(path)
		if err != nil {
			return err
		}
		dirSQL := "ASC"
		if n == -1 {
			dirSQL = "DESC"
		}
		parts = append(parts, jsonExtract("data", jp)+" "+dirSQL)
	}
	acc.orderBy = strings.Join(parts, ", ")
	return nil
}

func (ac *aggCompiler) applyLimit(acc *pipelineAccum, arg Value) error {
	const op = "docql.$limit"
	n, ok := asInt(arg)
	if !ok || n < 0 {
		return wrapErr(op, ErrInvalidStage, "$limit requires a non-negative integer")
	}
	if acc.limit == nil || n < *acc.limit {
		acc.limit = &n
	}
	return nil
}

func (ac *aggCompiler) applySkip(acc *pipelineAccum, arg Value) error {
	const op = "docql.$skip"
	n, ok := asInt(arg)
	if !ok || n < 0 {
		return wrapErr(op, ErrInvalidStage, "$skip requires a non-negative integer")
	}
	acc.skip += n
	return nil
}

// applyCount implements "$count name" as sugar for { $group: { _id: null,
// name: { $sum: 1 } } } followed by projection.
func (ac *aggCompiler) applyCount(acc *pipelineAccum, arg Value) error {
	const op = "docql.$count"
	name, ok := arg.(string)
	if !ok || !ValidateName(name) {
		return wrapErr(op, ErrInvalidStage, "$count requires a valid field name")
	}
	acc.wrap()
	acc.selectCols = fmt.Sprintf("json_object(%s, COUNT(*)) AS data", mustEncodeIdent(name))
	acc.projected = true
	return nil
}

// mustEncodeIdent renders a Go string literal as an inline SQL string
// literal, doubling any single quote it contains. The $count output name
// and $project inclusion keys reach it after passing ValidateName; $group
// output field names, computed $project keys and expression-object keys
// reach it without a ValidateName check, protected only by the quote
// doubling.
func mustEncodeIdent(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (ac *aggCompiler) applyGroup(acc *pipelineAccum, arg Value) error {
	const op = "docql.$group"
	obj, err := toObject(arg)
	if err != nil {
		return wrapErrf(op, ErrInvalidStage, "%v", err)
	}
	idVal, ok := obj.Get("_id")
	if !ok {
		return wrapErr(op, ErrInvalidStage, "$group requires _id")
	}

	acc.wrap()

	keyExpr, err := compileAggExpression(idVal, "data")
	if err != nil {
		return wrapErrf(op, ErrInvalidExpression, "%v", err)
	}
	keyTr, err := renderExpr(keyExpr)
	if err != nil {
		return err
	}

	// Materialise the grouping key as a real column "__gk" of an
	// intermediate source, rather than re-embedding keyTr.SQL's text (and
	// its placeholders) in both the SELECT list and the GROUP BY clause:
	// text embedded more than once would desynchronise "?" count from
	// params (the same hazard documented in compileArrayRewriteCombine).
	keyedFrom := "(SELECT data, " + keyTr.SQL + " AS __gk FROM " + acc.from + ") AS g"
	keyedParams := append(append([]any{}, keyTr.Params...), acc.fromParams...)

	fields := []string{mustEncodeIdent("_id"), "__gk"}
	var selectParams []any

	for _, outField := range obj.Keys() {
		if outField == "_id" {
			continue
		}
		accVal, _ := obj.Get(outField)
		accObj, err := toObject(accVal)
		if err != nil || accObj.Len() != 1 {
			return wrapErrf(op, ErrInvalidStage, "$group.%s must be a single-key accumulator object", outField)
		}
		accName := accObj.Keys()[0]
		accArg, _ := accObj.Get(accName)
		aggSQL, aggParams, err := compileAccumulator(accName, accArg)
		if err != nil {
			return err
		}
		fields = append(fields, mustEncodeIdent(outField), aggSQL)
		selectParams = append(selectParams, aggParams...)
	}

	acc.from = keyedFrom
	acc.fromParams = keyedParams
	acc.selectCols = "json_object(" + strings.Join(fields, ", ") + ") AS data"
	acc.selectParams = selectParams
	acc.groupBy = "__gk"
	acc.projected = true
	return nil
}

// compileAccumulator maps a $group accumulator to a SQL aggregate
// expression over the keyed source, whose "__gk" column already
// materialises the grouping key. $first/$last have no native SQL
// aggregate with first/last-by-input-order semantics, so they lean on
// json_group_array visiting the group's rows in scan order: element 0 is
// the first input row and element #-1 the last.
func compileAccumulator(name string, arg Value) (string, []any, error) {
	const op = "docql.$group"
	if name == "$count" {
		// $count ignores its argument entirely.
		return "COUNT(*)", nil, nil
	}
	expr, err := compileAggExpression(arg, "data")
	if err != nil {
		return "", nil, wrapErrf(op, ErrInvalidExpression, "%v", err)
	}
	tr, err := renderExpr(expr)
	if err != nil {
		return "", nil, err
	}
	switch name {
	case "$sum":
		return "SUM(" + tr.SQL + ")", tr.Params, nil
	case "$avg":
		return "AVG(" + tr.SQL + ")", tr.Params, nil
	case "$min":
		return "MIN(" + tr.SQL + ")", tr.Params, nil
	case "$max":
		return "MAX(" + tr.SQL + ")", tr.Params, nil
	case "$push":
		return "json_group_array(" + tr.SQL + ")", tr.Params, nil
	case "$addToSet":
		return "json_group_array(DISTINCT " + tr.SQL + ")", tr.Params, nil
	case "$first":
		return "json_extract(json_group_array(" + tr.SQL + "),'$[0]')", tr.Params, nil
	case "$last":
		return "json_extract(json_group_array(" + tr.SQL + "),'$[#-1]')", tr.Params, nil
	default:
		return "", nil, wrapErrf(op, ErrInvalidOperator, "unknown accumulator %q", name)
	}
}

// applyUnwind emits one output row per element of the unwound array field.
func (ac *aggCompiler) applyUnwind(acc *pipelineAccum, arg Value) error {
	const op = "docql.$unwind"
	var fieldPath string
	preserveEmpty := false
	includeIndex := ""

	switch v := arg.(type) {
	case string:
		fieldPath = v
	default:
		obj, err := toObject(arg)
		if err != nil {
			return wrapErrf(op, ErrInvalidStage, "%v", err)
		}
		p, ok := obj.Get("path")
		if !ok {
			return wrapErr(op, ErrInvalidStage, "$unwind requires a path")
		}
		fieldPath, ok = p.(string)
		if !ok {
			return wrapErr(op, ErrInvalidStage, "$unwind.path must be a string")
		}
		if pe, ok := obj.Get("preserveNullAndEmptyArrays"); ok {
			preserveEmpty, _ = pe.(bool)
		}
		if idx, ok := obj.Get("includeArrayIndex"); ok {
			includeIndex, _ = idx.(string)
		}
	}
	fieldPath = strings.TrimPrefix(fieldPath, "$")
	path, err := ParsePath(fieldPath)
	if err != nil {
		return err
	}
	if err := checkFieldValidator(ac.opts, fieldPath); err != nil {
		return err
	}
	jp, err := ToJSONPath(path)
	if err != nil {
		return err
	}

	if acc.projected {
		acc.wrap()
	}

	arrExpr := jsonExtract("data", jp)
	var newData string
	if includeIndex != "" {
		idxPath, err := ParsePath(includeIndex)
		if err != nil {
			return err
		}
		if err := checkFieldValidator(ac.opts, includeIndex); err != nil {
			return err
		}
		idxJP, err := ToJSONPath(idxPath)
		if err != nil {
			return err
		}
		newData = "json_set(json_set(data, '" + jp + "', value), '" + idxJP + "', key)"
	} else {
		newData = "json_set(data, '" + jp + "', value)"
	}

	if preserveEmpty {
		// The LEFT JOIN keeps rows whose field is missing, null, or an
		// empty array; json_each then contributes no row, so key is NULL
		// and the original document is kept with the unwound field
		// removed.
		newData = "CASE WHEN key IS NULL THEN json_remove(data, '" + jp + "') ELSE " + newData + " END"
		acc.from = acc.from + " LEFT JOIN json_each(" + arrExpr + ") ON 1=1"
	} else {
		acc.from = acc.from + ", json_each(" + arrExpr + ")"
	}
	acc.selectCols = newData + " AS data"
	acc.projected = true
	return nil
}

// applyLookup implements $lookup as a correlated sub-query building an
// array of matching foreign documents. Materialising smaller foreign
// collections first was considered and dropped; the correlated form is
// simpler and always correct.
func (ac *aggCompiler) applyLookup(acc *pipelineAccum, arg Value) error {
	const op = "docql.$lookup"
	obj, err := toObject(arg)
	if err != nil {
		return wrapErrf(op, ErrInvalidStage, "%v", err)
	}
	from, _ := obj.Get("from")
	localField, _ := obj.Get("localField")
	foreignField, _ := obj.Get("foreignField")
	as, _ := obj.Get("as")

	fromName, ok1 := from.(string)
	localStr, ok2 := localField.(string)
	foreignStr, ok3 := foreignField.(string)
	asStr, ok4 := as.(string)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ValidateName(fromName) {
		return wrapErr(op, ErrInvalidStage, "$lookup requires from, localField, foreignField, as as strings")
	}

	localPath, err := ParsePath(localStr)
	if err != nil {
		return err
	}
	foreignPath, err := ParsePath(foreignStr)
	if err != nil {
		return err
	}
	if err := checkFieldValidator(ac.opts, localStr); err != nil {
		return err
	}
	if err := checkFieldValidator(ac.opts, foreignStr); err != nil {
		return err
	}
	localJP, err := ToJSONPath(localPath)
	if err != nil {
		return err
	}
	foreignJP, err := ToJSONPath(foreignPath)
	if err != nil {
		return err
	}
	asPath, err := ParsePath(asStr)
	if err != nil {
		return err
	}
	if err := checkFieldValidator(ac.opts, asStr); err != nil {
		return err
	}
	asJP, err := ToJSONPath(asPath)
	if err != nil {
		return err
	}

	// The outer shape is always wrapped first so the local side of the
	// correlation has a stable alias ("t") distinct from the foreign
	// collection's own data column - without it, both json_extract calls
	// inside the sub-query would resolve against the foreign table.
	acc.wrap()
	sub := "(SELECT json_group_array(f.data) FROM " + fromName + " AS f WHERE " +
		jsonExtract("f.data", foreignJP) + " = " + jsonExtract("t.data", localJP) + ")"
	acc.selectCols = "json_set(t.data, '" + asJP + "', COALESCE(" + sub + ",'[]')) AS data"
	acc.projected = true
	return nil
}

// applyProject implements $project's two modes: inclusion builds
// an explicit json_object of the named fields (plus "_id" unless it is
// itself excluded); exclusion drops the named fields from the document
// verbatim via json_remove. "_id: 0" is the one key exempt from the
// mixing rule - it may appear alongside inclusion fields to drop the
// otherwise-implicit "_id", without forcing the whole projection into
// exclusion mode.
func (ac *aggCompiler) applyProject(acc *pipelineAccum, arg Value) error {
	const op = "docql.$project"
	obj, err := toObject(arg)
	if err != nil {
		return wrapErrf(op, ErrInvalidStage, "%v", err)
	}
	if acc.projected {
		acc.wrap()
	}

	mode := 0 // 0=unset, 1=inclusion, -1=exclusion
	var fields []string
	var excludedKeys []string
	var params []any
	idExcluded := false
	for _, key := range obj.Keys() {
		val, _ := obj.Get(key)
		if n, ok := asInt(val); ok {
			if n != 0 && n != 1 {
				return wrapErrf(op, ErrInvalidArgument, "$project.%s must be 0, 1, or an expression", key)
			}
			want := 1
			if n == 0 {
				want = -1
			}
			if key == "_id" && want == -1 {
				idExcluded = true
				continue
			}
			if mode == 0 {
				mode = want
			} else if mode != want {
				return wrapErrf(op, ErrInvalidArgument, "$project cannot mix inclusion and exclusion (field %q)", key)
			}
			if want == -1 {
				excludedKeys = append(excludedKeys, key)
				continue
			}
			path, err := ParsePath(key)
			if err != nil {
				return err
			}
			if err := checkFieldValidator(ac.opts, key); err != nil {
				return err
			}
			jp, err := ToJSONPath(path)
			if err != nil {
				return err
			}
			fields = append(fields, mustEncodeIdent(key), jsonExtract("data", jp))
			continue
		}
		// computed field via the expression sub-language
		expr, err := compileAggExpression(val, "data")
		if err != nil {
			return wrapErrf(op, ErrInvalidExpression, "%v", err)
		}
		tr, err := renderExpr(expr)
		if err != nil {
			return err
		}
		fields = append(fields, mustEncodeIdent(key), tr.SQL)
		params = append(params, tr.Params...)
	}

	if mode == -1 || (mode == 0 && idExcluded && len(fields) == 0) {
		if idExcluded {
			excludedKeys = append([]string{"_id"}, excludedKeys...)
		}
		var jpArgs []string
		for _, key := range excludedKeys {
			path, err := ParsePath(key)
			if err != nil {
				return err
			}
			if err := checkFieldValidator(ac.opts, key); err != nil {
				return err
			}
			jp, err := ToJSONPath(path)
			if err != nil {
				return err
			}
			jpArgs = append(jpArgs, "'"+jp+"'")
		}
		acc.selectCols = "json_remove(data, " + strings.Join(jpArgs, ", ") + ") AS data"
		acc.projected = true
		return nil
	}

	if !idExcluded {
		if _, hasID := obj.Get("_id"); !hasID {
			fields = append([]string{mustEncodeIdent("_id"), jsonExtract("data", "$._id")}, fields...)
		}
	}

	acc.selectCols = "json_object(" + strings.Join(fields, ", ") + ") AS data"
	acc.selectParams = params
	acc.projected = true
	return nil
}

func (ac *aggCompiler) applyAddFields(acc *pipelineAccum, arg Value) error {
	const op = "docql.$addFields"
	obj, err := toObject(arg)
	if err != nil {
		return wrapErrf(op, ErrInvalidStage, "%v", err)
	}
	if acc.projected {
		acc.wrap()
	}
	cur := Translation{SQL: "data"}
	for _, key := range obj.Keys() {
		val, _ := obj.Get(key)
		path, err := ParsePath(key)
		if err != nil {
			return err
		}
		if err := checkFieldValidator(ac.opts, key); err != nil {
			return err
		}
		jp, err := ToJSONPath(path)
		if err != nil {
			return err
		}
		expr, err := compileAggExpression(val, "data")
		if err != nil {
			return wrapErrf(op, ErrInvalidExpression, "%v", err)
		}
		tr, err := renderExpr(expr)
		if err != nil {
			return err
		}
		cur = Translation{
			SQL:    "json_set(" + cur.SQL + ", '" + jp + "', " + tr.SQL + ")",
			Params: append(append([]any{}, cur.Params...), tr.Params...),
		}
	}
	acc.selectCols = cur.SQL + " AS data"
	acc.selectParams = cur.Params
	acc.projected = true
	return nil
}

func (ac *aggCompiler) applyReplaceRoot(acc *pipelineAccum, arg Value) error {
	const op = "docql.$replaceRoot"
	obj, err := toObject(arg)
	if err != nil {
		return wrapErrf(op, ErrInvalidStage, "%v", err)
	}
	newRoot, ok := obj.Get("newRoot")
	if !ok {
		return wrapErr(op, ErrInvalidStage, "$replaceRoot requires newRoot")
	}
	if acc.projected {
		acc.wrap()
	}
	expr, err := compileAggExpression(newRoot, "data")
	if err != nil {
		return wrapErrf(op, ErrInvalidExpression, "%v", err)
	}
	tr, err := renderExpr(expr)
	if err != nil {
		return err
	}
	acc.selectCols = tr.SQL + " AS data"
	acc.selectParams = tr.Params
	acc.projected = true
	return nil
}

func (ac *aggCompiler) applySample(acc *pipelineAccum, arg Value) error {
	const op = "docql.$sample"
	obj, err := toObject(arg)
	if err != nil {
		return wrapErrf(op, ErrInvalidStage, "%v", err)
	}
	sizeVal, ok := obj.Get("size")
	if !ok {
		return wrapErr(op, ErrInvalidStage, "$sample requires size")
	}
	n, ok := asInt(sizeVal)
	if !ok || n < 0 {
		return wrapErr(op, ErrInvalidStage, "$sample.size must be a non-negative integer")
	}
	acc.orderBy = "RANDOM()"
	acc.limit = &n
	return nil
}

// --- expression sub-language ------------------------------------------

// aggExprOperator compiles one operator's raw argument value (usually an
// array of sub-expressions) into a sqlExpr.
type aggExprOperator func(arg Value, root string) (sqlExpr, error)

var aggExprOperators map[string]aggExprOperator

func init() {
	aggExprOperators = map[string]aggExprOperator{
		"$add":      variadicArith("+"),
		"$multiply": variadicArith("*"),
		"$subtract": binaryArith("-"),
		"$divide":   binaryArith("/"),
		"$mod":      binaryArith("%"),
		"$eq":       comparisonExpr("="),
		"$ne":       comparisonExpr("!="),
		"$gt":       comparisonExpr(">"),
		"$gte":      comparisonExpr(">="),
		"$lt":       comparisonExpr("<"),
		"$lte":      comparisonExpr("<="),
		"$and":      variadicLogical("AND"),
		"$or":       variadicLogical("OR"),
		"$not":      notExpr,
		"$concat":   variadicCall("concat"),
		"$toLower":  unaryCall("lower"),
		"$toUpper":  unaryCall("upper"),
		"$substr":   substrExpr,
		"$cond":     condOperator,
		"$ifNull":   ifNullExpr,
		"$size":     unaryCall("json_array_length"),
		"$arrayElemAt": arrayElemAtExpr,
	}
}

// compileAggExpression compiles one node of the expression
// sub-language rooted at root (the column the stage currently reads "data"
// through — always "data" here, since wrap() re-aliases every boundary).
func compileAggExpression(val Value, root string) (sqlExpr, error) {
	const op = "docql.compileAggExpression"
	switch v := val.(type) {
	case string:
		if strings.HasPrefix(v, "$$ROOT") {
			return rawExpr{sql: root}, nil
		}
		if strings.HasPrefix(v, "$") {
			fieldPath := strings.TrimPrefix(v, "$")
			path, err := ParsePath(fieldPath)
			if err != nil {
				return nil, err
			}
			jp, err := ToJSONPath(path)
			if err != nil {
				return nil, err
			}
			return rawExpr{sql: jsonExtract(root, jp)}, nil
		}
		return placeholderExpr{value: v}, nil
	case []any:
		return compileExprArray(v, root)
	case *Array:
		return compileExprArray(v.Values, root)
	case nil:
		return placeholderExpr{value: nil}, nil
	default:
		obj, err := toObject(val)
		if err == nil && obj.Len() > 0 {
			if obj.Len() == 1 && strings.HasPrefix(obj.Keys()[0], "$") {
				opName := obj.Keys()[0]
				fn, ok := aggExprOperators[opName]
				if !ok {
					return nil, wrapErrf(op, ErrInvalidExpression, "unknown expression operator %q", opName)
				}
				opArg, _ := obj.Get(opName)
				return fn(opArg, root)
			}
			return compileExprObject(obj, root)
		}
		return placeholderExpr{value: val}, nil
	}
}

func compileExprArray(vals []any, root string) (sqlExpr, error) {
	args := make([]sqlExpr, 0, len(vals))
	for _, v := range vals {
		e, err := compileAggExpression(v, root)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return callExpr{name: "json_array", args: args}, nil
}

// compileExprObject compiles a plain (non-operator) document value in
// expression position into a json_object(...) constructor, so computed
// $project/$group fields may nest literal sub-documents around expressions.
func compileExprObject(obj *Object, root string) (sqlExpr, error) {
	args := make([]sqlExpr, 0, obj.Len()*2)
	for _, key := range obj.Keys() {
		val, _ := obj.Get(key)
		args = append(args, literalExpr{text: mustEncodeIdent(key)})
		e, err := compileAggExpression(val, root)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return callExpr{name: "json_object", args: args}, nil
}

func exprArgs(arg Value, root string, want int) ([]sqlExpr, error) {
	const op = "docql.compileAggExpression"
	arr, ok := toArray(arg)
	if !ok {
		return nil, wrapErrf(op, ErrInvalidExpression, "expected an array of %d argument(s)", want)
	}
	if want >= 0 && len(arr.Values) != want {
		return nil, wrapErrf(op, ErrInvalidExpression, "expected exactly %d argument(s), got %d", want, len(arr.Values))
	}
	args := make([]sqlExpr, 0, len(arr.Values))
	for _, v := range arr.Values {
		e, err := compileAggExpression(v, root)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return args, nil
}

func variadicArith(sqlOp string) aggExprOperator {
	return func(arg Value, root string) (sqlExpr, error) {
		args, err := exprArgs(arg, root, -1)
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, wrapErr("docql.compileAggExpression", ErrInvalidExpression, "requires at least 2 arguments")
		}
		acc := args[0]
		for _, a := range args[1:] {
			acc = binaryExpr{left: acc, op: sqlOp, right: a}
		}
		return acc, nil
	}
}

func binaryArith(sqlOp string) aggExprOperator {
	return func(arg Value, root string) (sqlExpr, error) {
		args, err := exprArgs(arg, root, 2)
		if err != nil {
			return nil, err
		}
		return binaryExpr{left: args[0], op: sqlOp, right: args[1]}, nil
	}
}

func comparisonExpr(sqlOp string) aggExprOperator {
	return func(arg Value, root string) (sqlExpr, error) {
		args, err := exprArgs(arg, root, 2)
		if err != nil {
			return nil, err
		}
		return binaryExpr{left: args[0], op: sqlOp, right: args[1]}, nil
	}
}

func variadicLogical(sqlOp string) aggExprOperator {
	return func(arg Value, root string) (sqlExpr, error) {
		args, err := exprArgs(arg, root, -1)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, wrapErr("docql.compileAggExpression", ErrInvalidExpression, "requires at least 1 argument")
		}
		acc := args[0]
		for _, a := range args[1:] {
			acc = binaryExpr{left: acc, op: sqlOp, right: a}
		}
		return acc, nil
	}
}

func notExpr(arg Value, root string) (sqlExpr, error) {
	var inner Value = arg
	if arr, ok := toArray(arg); ok && len(arr.Values) == 1 {
		inner = arr.Values[0]
	}
	e, err := compileAggExpression(inner, root)
	if err != nil {
		return nil, err
	}
	return callExpr{name: "NOT", args: []sqlExpr{e}}, nil
}

func variadicCall(fn string) aggExprOperator {
	return func(arg Value, root string) (sqlExpr, error) {
		args, err := exprArgs(arg, root, -1)
		if err != nil {
			return nil, err
		}
		return callExpr{name: fn, args: args}, nil
	}
}

func unaryCall(fn string) aggExprOperator {
	return func(arg Value, root string) (sqlExpr, error) {
		e, err := compileAggExpression(arg, root)
		if err != nil {
			return nil, err
		}
		return callExpr{name: fn, args: []sqlExpr{e}}, nil
	}
}

func substrExpr(arg Value, root string) (sqlExpr, error) {
	args, err := exprArgs(arg, root, 3)
	if err != nil {
		return nil, err
	}
	return callExpr{name: "substr", args: args}, nil
}

func condOperator(arg Value, root string) (sqlExpr, error) {
	const op = "docql.$cond"
	if obj, ok := arg.(*Object); ok {
		return compileCondObject(obj, root)
	}
	if m, ok := arg.(map[string]any); ok {
		obj, _ := toObject(m)
		return compileCondObject(obj, root)
	}
	if d, ok := arg.(D); ok {
		obj, _ := toObject(d)
		return compileCondObject(obj, root)
	}
	args, err := exprArgs(arg, root, 3)
	if err != nil {
		return nil, wrapErrf(op, ErrInvalidExpression, "%v", err)
	}
	return condExpr{cond: args[0], then: args[1], els: args[2]}, nil
}

func compileCondObject(obj *Object, root string) (sqlExpr, error) {
	const op = "docql.$cond"
	ifVal, ok1 := obj.Get("if")
	thenVal, ok2 := obj.Get("then")
	elseVal, ok3 := obj.Get("else")
	if !ok1 || !ok2 || !ok3 {
		return nil, wrapErr(op, ErrInvalidExpression, "$cond object form requires if, then, else")
	}
	ifE, err := compileAggExpression(ifVal, root)
	if err != nil {
		return nil, err
	}
	thenE, err := compileAggExpression(thenVal, root)
	if err != nil {
		return nil, err
	}
	elseE, err := compileAggExpression(elseVal, root)
	if err != nil {
		return nil, err
	}
	return condExpr{cond: ifE, then: thenE, els: elseE}, nil
}

func ifNullExpr(arg Value, root string) (sqlExpr, error) {
	args, err := exprArgs(arg, root, 2)
	if err != nil {
		return nil, err
	}
	return callExpr{name: "COALESCE", args: args}, nil
}

// arrayElemAtExpr implements $arrayElemAt. The index must be a literal
// integer; a dynamically computed index has no safe-by-construction
// JSON-path form and is rejected as Unsupported.
func arrayElemAtExpr(arg Value, root string) (sqlExpr, error) {
	const op = "docql.$arrayElemAt"
	arr, ok := toArray(arg)
	if !ok || len(arr.Values) != 2 {
		return nil, wrapErr(op, ErrInvalidExpression, "$arrayElemAt requires [array, index]")
	}
	n, ok := asInt(arr.Values[1])
	if !ok {
		return nil, wrapErrf(op, ErrUnsupported, "$arrayElemAt requires a literal integer index")
	}
	arrE, err := compileAggExpression(arr.Values[0], root)
	if err != nil {
		return nil, err
	}
	return callExpr{name: "json_extract", args: []sqlExpr{
		arrE,
		literalExpr{text: "'$[" + strconv.FormatInt(n, 10) + "]'"},
	}}, nil
}
