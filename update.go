package docql

import (
	"math"
	"strings"
)

// updateOperatorOrder is the fixed processing order: composition
// is deterministic and semantically sensible only when operators are
// applied in this order, regardless of the order they appear in the input
// document.
var updateOperatorOrder = []string{
	"$rename", "$unset", "$set", "$setOnInsert", "$inc", "$mul", "$min",
	"$max", "$bit", "$push", "$addToSet", "$pull", "$pullAll", "$pop",
}

var knownUpdateOperators = func() map[string]bool {
	m := make(map[string]bool, len(updateOperatorOrder))
	for _, o := range updateOperatorOrder {
		m[o] = true
	}
	return m
}()

// TranslateUpdate compiles an update document into an expression that
// evaluates to the new value of the row column data. An empty
// update returns data verbatim.
func TranslateUpdate(update any, opts ...Option) (Translation, error) {
	const op = "docql.TranslateUpdate"
	o, err := getOpts(opts...)
	if err != nil {
		return Translation{}, err
	}
	obj, err := toObject(update)
	if err != nil {
		return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
	}
	if obj.Len() == 0 {
		return Translation{SQL: "data"}, nil
	}

	uc := &updateCompiler{opts: o, ctx: o.withPositionalCtx}
	if err := uc.validate(obj); err != nil {
		return Translation{}, err
	}
	if err := uc.detectConflicts(obj); err != nil {
		return Translation{}, err
	}

	cur := Translation{SQL: "data"}
	for _, opName := range updateOperatorOrder {
		val, ok := obj.Get(opName)
		if !ok {
			continue
		}
		fields, err := toObject(val)
		if err != nil {
			return Translation{}, wrapErrf(opName, ErrInvalidArgument, "%v", err)
		}
		cur, err = uc.apply(opName, cur, fields)
		if err != nil {
			return Translation{}, err
		}
	}
	return cur, nil
}

type updateCompiler struct {
	opts options
	ctx  *PositionalContext
}

// resolve parses and plans one update path, honouring WithMaxPathDepth.
func (uc *updateCompiler) resolve(op string, pathStr string) (*resolvedTarget, error) {
	path, err := ParsePath(pathStr)
	if err != nil {
		return nil, err
	}
	if len(path) > uc.opts.withMaxPathDepth {
		return nil, wrapErrf(op, ErrInvalidPath, "path %q exceeds max depth %d", pathStr, uc.opts.withMaxPathDepth)
	}
	if err := checkFieldValidator(uc.opts, pathStr); err != nil {
		return nil, err
	}
	return planPath(path, uc.ctx)
}

// validate checks that every top-level key starts with "$" and names a
// known operator, then applies each operator's own argument shape checks.
func (uc *updateCompiler) validate(obj *Object) error {
	const op = "docql.TranslateUpdate"
	for _, key := range obj.Keys() {
		if !strings.HasPrefix(key, "$") {
			return wrapErrf(op, ErrInvalidOperator, "update key %q must be an operator", key)
		}
		if !knownUpdateOperators[key] {
			return wrapErrf(op, ErrInvalidOperator, "unknown update operator %q", key)
		}
		val, _ := obj.Get(key)
		fields, err := toObject(val)
		if err != nil {
			return wrapErrf(key, ErrInvalidArgument, "%v", err)
		}
		if err := validateOperatorShape(key, fields); err != nil {
			return err
		}
	}
	return nil
}

func validateOperatorShape(operator string, fields *Object) error {
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		switch operator {
		case "$inc", "$mul":
			if !isFiniteNumber(val) {
				return wrapErrf(operator, ErrInvalidArgument, "%s.%s must be a finite number", operator, key)
			}
		case "$rename":
			target, ok := val.(string)
			if !ok || target == "" {
				return wrapErrf(operator, ErrInvalidArgument, "$rename.%s must be a non-empty string", key)
			}
			if target == key {
				return wrapErrf(operator, ErrInvalidArgument, "$rename source and target must differ, got %q", key)
			}
		case "$min", "$max":
			if val == nil {
				return wrapErrf(operator, ErrInvalidArgument, "%s.%s must not be null", operator, key)
			}
		case "$pop":
			n, ok := asInt(val)
			if !ok || (n != 1 && n != -1) {
				return wrapErrf(operator, ErrInvalidArgument, "$pop.%s must be 1 or -1", key)
			}
		}
	}
	return nil
}

func isFiniteNumber(v Value) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return !math.IsNaN(float64(n)) && !math.IsInf(float64(n), 0)
	default:
		return false
	}
}

func asInt(v Value) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

// detectConflicts builds a field-path -> operator mapping; a second write
// to the same path is an error except the $min/$max pair.
// $rename occupies both its source and target paths. The input is walked
// in a fixed operator order so the result does not depend on the caller's
// key ordering.
func (uc *updateCompiler) detectConflicts(obj *Object) error {
	const op = "docql.TranslateUpdate"
	claims := make(map[string]string)
	claim := func(path, operator string) error {
		cur, ok := claims[path]
		if !ok {
			claims[path] = operator
			return nil
		}
		if (cur == "$min" && operator == "$max") || (cur == "$max" && operator == "$min") {
			claims[path] = "$min|$max"
			return nil
		}
		return wrapErrf(op, ErrConflictingUpdate, "path %q is written by both %q and %q", path, cur, operator)
	}

	for _, opName := range updateOperatorOrder {
		val, ok := obj.Get(opName)
		if !ok {
			continue
		}
		fields, err := toObject(val)
		if err != nil {
			return wrapErrf(opName, ErrInvalidArgument, "%v", err)
		}
		for _, key := range fields.Keys() {
			if err := claim(key, opName); err != nil {
				return err
			}
			if opName == "$rename" {
				target, _ := fields.Get(key)
				if err := claim(target.(string), opName); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (uc *updateCompiler) apply(operator string, cur Translation, fields *Object) (Translation, error) {
	switch operator {
	case "$set":
		return uc.compileSet(cur, fields)
	case "$setOnInsert":
		if !uc.opts.withInsertContext {
			return cur, nil
		}
		return uc.compileSet(cur, fields)
	case "$unset":
		return uc.compileUnset(cur, fields)
	case "$rename":
		return uc.compileRename(cur, fields)
	case "$inc":
		return uc.compileArithmetic(cur, fields, "+")
	case "$mul":
		return uc.compileArithmetic(cur, fields, "*")
	case "$min":
		return uc.compileMinMax(cur, fields, "<")
	case "$max":
		return uc.compileMinMax(cur, fields, ">")
	case "$bit":
		return uc.compileBit(cur, fields)
	case "$push":
		return uc.compilePush(cur, fields)
	case "$addToSet":
		return uc.compileAddToSet(cur, fields)
	case "$pull":
		return uc.compilePull(cur, fields)
	case "$pullAll":
		return uc.compilePullAll(cur, fields)
	case "$pop":
		return uc.compilePop(cur, fields)
	default:
		return Translation{}, wrapErrf(operator, ErrInvalidOperator, "unhandled operator %q", operator)
	}
}

// compileSet implements the combined multi-argument $set shape, buffering
// consecutive simple paths into one json_set call and flushing whenever a
// positional rewrite interrupts the run.
func (uc *updateCompiler) compileSet(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$set"
	var bufArgs []string
	var bufParams []any
	flush := func() {
		if len(bufArgs) == 0 {
			return
		}
		cur = Translation{
			SQL:    "json_set(" + cur.SQL + ", " + strings.Join(bufArgs, ", ") + ")",
			Params: append(append([]any{}, cur.Params...), bufParams...),
		}
		bufArgs, bufParams = nil, nil
	}

	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			enc, err := encodeLiteral(val)
			if err != nil {
				return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
			}
			bufArgs = append(bufArgs, "'"+jp+"'", enc.SQL)
			bufParams = append(bufParams, enc.Params...)
			continue
		}
		flush()
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, func(string) (Translation, error) {
			return encodeLiteral(val)
		})
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	flush()
	return cur, nil
}

// compileUnset implements the combined multi-argument $unset shape,
// buffering consecutive simple paths into one json_remove call and
// flushing whenever a positional rewrite interrupts the run, mirroring
// compileSet. A "$[]"/"$[ident]" target rebuilds the array via
// compileArrayUnsetRewrite, removing the suffix field from each matching
// element (or nulling the element itself when the token addresses it
// directly).
func (uc *updateCompiler) compileUnset(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$unset"
	var bufArgs []string
	flush := func() {
		if len(bufArgs) == 0 {
			return
		}
		cur = Translation{
			SQL:    "json_remove(" + cur.SQL + ", " + strings.Join(bufArgs, ", ") + ")",
			Params: cur.Params,
		}
		bufArgs = nil
	}

	for _, key := range fields.Keys() {
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			bufArgs = append(bufArgs, "'"+jp+"'")
			continue
		}
		flush()
		next, err := compileArrayUnsetRewrite(cur, rt.Rewrite, uc.ctx)
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	flush()
	return cur, nil
}

// compileRename implements the remove-then-set $rename shape, chaining
// left-associatively
// across multiple pairs in document order. When both the source and target
// resolve to the same matched array (same array path and selection), the
// rename is rebuilt as one array rewrite that moves the field within each
// matching element; any other combination of positional tokens has no
// sensible single-expression SQL form and is rejected.
func (uc *updateCompiler) compileRename(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$rename"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		target := val.(string)

		oldRt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		newRt, err := uc.resolve(op, target)
		if err != nil {
			return Translation{}, err
		}

		switch {
		case oldRt.Rewrite == nil && newRt.Rewrite == nil:
			oldJP, err := ToJSONPath(oldRt.Path)
			if err != nil {
				return Translation{}, err
			}
			newJP, err := ToJSONPath(newRt.Path)
			if err != nil {
				return Translation{}, err
			}
			cur = Translation{
				SQL:    "json_set(json_remove(" + cur.SQL + ", '" + oldJP + "'), '" + newJP + "', " + jsonExtract("data", oldJP) + ")",
				Params: cur.Params,
			}
		case oldRt.Rewrite != nil && newRt.Rewrite != nil && sameArrayTarget(oldRt.Rewrite, newRt.Rewrite):
			oldSuffix, err := ToJSONPath(oldRt.Rewrite.ElemSuffix)
			if err != nil {
				return Translation{}, err
			}
			newSuffix, err := ToJSONPath(newRt.Rewrite.ElemSuffix)
			if err != nil {
				return Translation{}, err
			}
			next, err := compileArrayRewriteCombine(cur, oldRt.Rewrite, uc.ctx, func(_, _ string) (Translation, error) {
				return Translation{
					SQL: "json_set(json_remove(value, '" + oldSuffix + "'), '" + newSuffix + "', " +
						jsonExtract("value", oldSuffix) + ")",
				}, nil
			})
			if err != nil {
				return Translation{}, err
			}
			cur = next
		default:
			return Translation{}, wrapErrf(op, ErrUnsupported, "$rename requires source and target to address the same matched array, got %q and %q", key, target)
		}
	}
	return cur, nil
}

// compileArithmetic implements $inc/$mul's shared shape: json_set(<prev>,
// '<jp>', COALESCE(json_extract(data,'<jp>'),0) <op> ?), composing
// left-associatively across multiple paths.
func (uc *updateCompiler) compileArithmetic(cur Translation, fields *Object, sqlOp string) (Translation, error) {
	const op = "docql.arithmeticUpdate"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		delta, err := encodeLiteral(val)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
		}
		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			read := jsonExtract("data", jp)
			cur = Translation{
				SQL:    "json_set(" + cur.SQL + ", '" + jp + "', COALESCE(" + read + ",0) " + sqlOp + " " + delta.SQL + ")",
				Params: append(append([]any{}, cur.Params...), delta.Params...),
			}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, func(readExpr string) (Translation, error) {
			return Translation{
				SQL:    "COALESCE(" + readExpr + ",0) " + sqlOp + " " + delta.SQL,
				Params: delta.Params,
			}, nil
		})
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}

// compileMinMax implements the conditional $min/$max shape.
func (uc *updateCompiler) compileMinMax(cur Translation, fields *Object, cmp string) (Translation, error) {
	const op = "docql.minMaxUpdate"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		enc, err := encodeLiteral(val)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
		}
		build := func(read string) (Translation, error) {
			return Translation{
				SQL:    "CASE WHEN " + read + " IS NULL OR " + enc.SQL + " " + cmp + " " + read + " THEN " + enc.SQL + " ELSE " + read + " END",
				Params: append(append([]any{}, enc.Params...), enc.Params...),
			}, nil
		}
		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			body, err := build(jsonExtract("data", jp))
			if err != nil {
				return Translation{}, err
			}
			cur = Translation{
				SQL:    "json_set(" + cur.SQL + ", '" + jp + "', " + body.SQL + ")",
				Params: append(append([]any{}, cur.Params...), body.Params...),
			}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, build)
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}

var bitSubOps = map[string]string{"and": "&", "or": "|"}

// compileBit implements $bit's and/or/xor sub-operators. xor has no native
// SQL operator here, so it is expressed as (a|b)-(a&b), which agrees with
// bitwise xor bit-for-bit since OR and AND never disagree in a way that
// borrows across bit positions.
func (uc *updateCompiler) compileBit(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$bit"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		subObj, err := toObject(val)
		if err != nil || subObj.Len() != 1 {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "$bit.%s must be a single-key {and|or|xor: n} object", key)
		}
		subKey := subObj.Keys()[0]
		arg, _ := subObj.Get(subKey)
		enc, err := encodeLiteral(arg)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
		}

		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		build := func(read string) (Translation, error) {
			if sqlOp, ok := bitSubOps[subKey]; ok {
				return Translation{SQL: "(" + read + " " + sqlOp + " " + enc.SQL + ")", Params: enc.Params}, nil
			}
			if subKey == "xor" {
				return Translation{
					SQL:    "((" + read + " | " + enc.SQL + ") - (" + read + " & " + enc.SQL + "))",
					Params: append(append([]any{}, enc.Params...), enc.Params...),
				}, nil
			}
			return Translation{}, wrapErrf(op, ErrInvalidOperator, "unknown $bit sub-operator %q", subKey)
		}
		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			body, err := build(jsonExtract("data", jp))
			if err != nil {
				return Translation{}, err
			}
			cur = Translation{
				SQL:    "json_set(" + cur.SQL + ", '" + jp + "', " + body.SQL + ")",
				Params: append(append([]any{}, cur.Params...), body.Params...),
			}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, build)
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}

// compilePush implements $push, including $each/$slice.
// A "$[]"/"$[ident]" target rebuilds each matching element's array field via
// compileArrayRewrite, reusing the same insert-then-slice composition as the
// plain-path case.
func (uc *updateCompiler) compilePush(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$push"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		values, slice, hasSlice, err := parsePushArg(val)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
		}

		buildInserted := func(currentArray Translation) (Translation, error) {
			inserted := currentArray
			for _, v := range values {
				enc, err := encodeLiteral(v)
				if err != nil {
					return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
				}
				inserted = Translation{
					SQL:    "json_insert(" + inserted.SQL + ", '$[#]', " + enc.SQL + ")",
					Params: append(append([]any{}, inserted.Params...), enc.Params...),
				}
			}
			if hasSlice {
				return applySlice(inserted, slice)
			}
			return inserted, nil
		}

		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			inserted, err := buildInserted(Translation{SQL: "COALESCE(" + jsonExtract("data", jp) + ",'[]')"})
			if err != nil {
				return Translation{}, err
			}
			cur = Translation{
				SQL:    "json_set(" + cur.SQL + ", '" + jp + "', " + inserted.SQL + ")",
				Params: append(append([]any{}, cur.Params...), inserted.Params...),
			}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, func(readExpr string) (Translation, error) {
			return buildInserted(Translation{SQL: "COALESCE(" + readExpr + ",'[]')"})
		})
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}

func parsePushArg(val Value) (values []Value, slice int64, hasSlice bool, err error) {
	obj, convErr := toObject(val)
	if convErr != nil || obj.Len() == 0 {
		return []Value{val}, 0, false, nil
	}
	eachVal, hasEach := obj.Get("$each")
	if !hasEach {
		return []Value{val}, 0, false, nil
	}
	arr, ok := toArray(eachVal)
	if !ok {
		return nil, 0, false, wrapErr("docql.$push", ErrInvalidArgument, "$each must be an array")
	}
	values = arr.Values

	if sliceVal, ok := obj.Get("$slice"); ok {
		n, ok := asInt(sliceVal)
		if !ok {
			return nil, 0, false, wrapErr("docql.$push", ErrInvalidArgument, "$slice must be an integer")
		}
		return values, n, true, nil
	}
	return values, 0, false, nil
}

// applySlice implements the $slice sub-query. A
// negative n keeps the tail: the inner sub-query selects the last |n|
// elements by descending index, and the middle sub-query restores ascending
// order before aggregation, since json_group_array follows scan order.
func applySlice(arr Translation, n int64) (Translation, error) {
	if n == 0 {
		return Translation{SQL: "'[]'"}, nil
	}
	if n > 0 {
		return Translation{
			SQL: "(SELECT json_group_array(value) FROM (SELECT value, key FROM json_each(" +
				arr.SQL + ") ORDER BY key LIMIT ?))",
			Params: append(append([]any{}, arr.Params...), n),
		}, nil
	}
	return Translation{
		SQL: "(SELECT json_group_array(value) FROM (SELECT value FROM (SELECT value, key FROM json_each(" +
			arr.SQL + ") ORDER BY key DESC LIMIT ?) ORDER BY key))",
		Params: append(append([]any{}, arr.Params...), -n),
	}, nil
}

// compileAddToSet implements the $addToSet shape, chaining single-value
// insertions so repeated values within one update are coalesced. A
// "$[]"/"$[ident]" target rebuilds each matching element's set field via
// compileArrayRewrite.
func (uc *updateCompiler) compileAddToSet(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$addToSet"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		values, _, _, err := parsePushArg(val)
		if err != nil {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
		}

		buildStep := func(currentArray Translation) (Translation, error) {
			step := currentArray
			for _, v := range values {
				var stepErr error
				step, stepErr = addToSetStep(step, v)
				if stepErr != nil {
					return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", stepErr)
				}
			}
			return step, nil
		}

		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			step, err := buildStep(Translation{SQL: "COALESCE(" + jsonExtract("data", jp) + ",'[]')"})
			if err != nil {
				return Translation{}, err
			}
			cur = Translation{
				SQL:    "json_set(" + cur.SQL + ", '" + jp + "', " + step.SQL + ")",
				Params: append(append([]any{}, cur.Params...), step.Params...),
			}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, func(readExpr string) (Translation, error) {
			return buildStep(Translation{SQL: "COALESCE(" + readExpr + ",'[]')"})
		})
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}

// addToSetStep applies one $addToSet element to cur: cur appears three
// times and the encoded
// value twice, in that left-to-right order, so params are duplicated to
// match.
func addToSetStep(cur Translation, v Value) (Translation, error) {
	enc, err := encodeLiteral(v)
	if err != nil {
		return Translation{}, err
	}
	sql := "CASE WHEN EXISTS(SELECT 1 FROM json_each(" + cur.SQL + ") WHERE value = " + enc.SQL +
		") THEN " + cur.SQL + " ELSE json_insert(" + cur.SQL + ", '$[#]', " + enc.SQL + ") END"
	var params []any
	params = append(params, cur.Params...)
	params = append(params, enc.Params...)
	params = append(params, cur.Params...)
	params = append(params, cur.Params...)
	params = append(params, enc.Params...)
	return Translation{SQL: sql, Params: params}, nil
}

// compilePull implements $pull: a table-expression rebuild keeping
// elements that do not match. A scalar argument is a direct inequality; an
// operator-object argument is a reduced comparison-only sub-filter compiled
// over the iteration value. A "$[]"/"$[ident]" target rebuilds each matching
// element's array field the same way, reading from the matched element
// instead of the document root.
func (uc *updateCompiler) compilePull(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$pull"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}

		var removePred Translation
		if obj, ok := asOperatorObject(val); ok {
			removePred, err = compileReducedPullFilter(obj)
		} else {
			enc, encErr := encodeLiteral(val)
			if encErr != nil {
				return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", encErr)
			}
			removePred = Translation{SQL: "value = " + enc.SQL, Params: enc.Params}
		}
		if err != nil {
			return Translation{}, err
		}
		filtered := func(sourceExpr string) Translation {
			return Translation{
				SQL: "(SELECT json_group_array(value) FROM json_each(" + sourceExpr +
					") WHERE NOT (" + removePred.SQL + "))",
				Params: removePred.Params,
			}
		}

		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			body := filtered(jsonExtract("data", jp))
			cur = Translation{
				SQL:    "json_set(" + cur.SQL + ", '" + jp + "', " + body.SQL + ")",
				Params: append(append([]any{}, cur.Params...), body.Params...),
			}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, func(readExpr string) (Translation, error) {
			return filtered(readExpr), nil
		})
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}

// pullOperators is the reduced comparison-only operator set allowed inside
// $pull's sub-filter.
var pullOperators = map[string]bool{"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true}

func compileReducedPullFilter(obj *Object) (Translation, error) {
	const op = "docql.$pull"
	var clauses []Translation
	for _, key := range obj.Keys() {
		val, _ := obj.Get(key)
		if !pullOperators[key] {
			return Translation{}, wrapErrf(op, ErrInvalidOperator, "unsupported $pull operator %q", key)
		}
		handler := fieldOperators[key]
		t, err := handler(fieldOpCtx{target: "value", value: val})
		if err != nil {
			return Translation{}, err
		}
		clauses = append(clauses, t)
	}
	return joinClauses(clauses, "AND"), nil
}

// compilePullAll implements $pullAll: removes every element equal to
// any of a fixed literal list. A "$[]"/"$[ident]" target rebuilds each
// matching element's array field the same way.
func (uc *updateCompiler) compilePullAll(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$pullAll"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		arr, ok := toArray(val)
		if !ok {
			return Translation{}, wrapErrf(op, ErrInvalidArgument, "$pullAll.%s must be an array", key)
		}

		var placeholders []string
		var params []any
		for _, v := range arr.Values {
			enc, err := encodeLiteral(v)
			if err != nil {
				return Translation{}, wrapErrf(op, ErrInvalidArgument, "%v", err)
			}
			placeholders = append(placeholders, enc.SQL)
			params = append(params, enc.Params...)
		}
		notIn := "1=1"
		if len(placeholders) > 0 {
			notIn = "value NOT IN (" + strings.Join(placeholders, ", ") + ")"
		}
		filtered := func(sourceExpr string) Translation {
			return Translation{
				SQL:    "(SELECT json_group_array(value) FROM json_each(" + sourceExpr + ") WHERE " + notIn + ")",
				Params: params,
			}
		}

		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			body := filtered(jsonExtract("data", jp))
			cur = Translation{SQL: "json_set(" + cur.SQL + ", '" + jp + "', " + body.SQL + ")",
				Params: append(append([]any{}, cur.Params...), body.Params...)}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, func(readExpr string) (Translation, error) {
			return filtered(readExpr), nil
		})
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}

// compilePop implements $pop: removes the first (-1) or last (1)
// element. A "$[]"/"$[ident]" target rebuilds each matching element's array
// field the same way.
func (uc *updateCompiler) compilePop(cur Translation, fields *Object) (Translation, error) {
	const op = "docql.$pop"
	for _, key := range fields.Keys() {
		val, _ := fields.Get(key)
		rt, err := uc.resolve(op, key)
		if err != nil {
			return Translation{}, err
		}
		n, _ := asInt(val)

		popped := func(sourceExpr string) Translation {
			var cond string
			if n == 1 {
				cond = "idx < (SELECT COUNT(*) FROM json_each(" + sourceExpr + ")) - 1"
			} else {
				cond = "idx > 0"
			}
			return Translation{
				SQL: "(SELECT json_group_array(value) FROM (SELECT value, key AS idx FROM json_each(" +
					sourceExpr + ")) WHERE " + cond + ")",
			}
		}

		if rt.Rewrite == nil {
			jp, err := ToJSONPath(rt.Path)
			if err != nil {
				return Translation{}, err
			}
			body := popped(jsonExtract("data", jp))
			cur = Translation{SQL: "json_set(" + cur.SQL + ", '" + jp + "', " + body.SQL + ")", Params: cur.Params}
			continue
		}
		next, err := compileArrayRewrite(cur, rt.Rewrite, uc.ctx, func(readExpr string) (Translation, error) {
			return popped(readExpr), nil
		})
		if err != nil {
			return Translation{}, err
		}
		cur = next
	}
	return cur, nil
}
