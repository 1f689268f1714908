package docql

import "strings"

// sqlExpr is a small sum type rendered in one pass: build a tree of
// fragments, then render it once. It generalises a flat comparisonExpr /
// logicalExpr tagged union from the shape of one comparison or logical
// expression to an arbitrary SQL expression fragment: the aggregation
// expression sub-language and the query translator's $expr clause render
// through it. The update translator's positional-rewrite sub-queries are
// built as plain strings and do not use it.
type sqlExprType int

const (
	literalExprType sqlExprType = iota
	placeholderExprType
	callExprType
	binaryExprType
	rawExprType
	condExprType
)

// sqlExpr is implemented by literalExpr, placeholderExpr, callExpr,
// binaryExpr, rawExpr, and condExpr.
type sqlExpr interface {
	Type() sqlExprType
}

// rawExpr is SQL text that has already been verified safe to embed
// unparameterised: a rendered JSON path literal, a column name, or the
// output of a nested render call.
type rawExpr struct {
	sql string
}

func (rawExpr) Type() sqlExprType { return rawExprType }

// placeholderExpr is a single Document value that must flow through the
// parameter list via encodeLiteral rather than being inlined.
type placeholderExpr struct {
	value Value
}

func (placeholderExpr) Type() sqlExprType { return placeholderExprType }

// literalExpr is a Document value that is always safe to inline because it
// has no parameter form in the SQL dialect used here. Scalars from the
// document go through placeholderExpr; literalExpr carries the quoted key
// names of an aggregation expression object and the '$[n]' JSON path that
// $arrayElemAt builds from its literal index.
type literalExpr struct {
	text string
}

func (literalExpr) Type() sqlExprType { return literalExprType }

// callExpr renders as name(args[0], args[1], ...).
type callExpr struct {
	name string
	args []sqlExpr
}

func (callExpr) Type() sqlExprType { return callExprType }

// binaryExpr renders as (left op right).
type binaryExpr struct {
	left  sqlExpr
	op    string
	right sqlExpr
}

func (binaryExpr) Type() sqlExprType { return binaryExprType }

// condExpr renders as (CASE WHEN cond THEN then ELSE els END), the
// aggregation expression sub-language's $cond.
type condExpr struct {
	cond sqlExpr
	then sqlExpr
	els  sqlExpr
}

func (condExpr) Type() sqlExprType { return condExprType }

// renderExpr walks a sqlExpr tree in one pass, producing a Translation
// whose Params are collected depth-first, left-to-right, matching the
// ordering guarantee every translator makes.
func renderExpr(e sqlExpr) (Translation, error) {
	const op = "docql.renderExpr"
	switch v := e.(type) {
	case rawExpr:
		return Translation{SQL: v.sql}, nil
	case literalExpr:
		return Translation{SQL: v.text}, nil
	case placeholderExpr:
		return encodeLiteral(v.value)
	case callExpr:
		var b strings.Builder
		b.WriteString(v.name)
		b.WriteString("(")
		var params []any
		for i, a := range v.args {
			if i > 0 {
				b.WriteString(", ")
			}
			t, err := renderExpr(a)
			if err != nil {
				return Translation{}, err
			}
			b.WriteString(t.SQL)
			params = append(params, t.Params...)
		}
		b.WriteString(")")
		return Translation{SQL: b.String(), Params: params}, nil
	case binaryExpr:
		l, err := renderExpr(v.left)
		if err != nil {
			return Translation{}, err
		}
		r, err := renderExpr(v.right)
		if err != nil {
			return Translation{}, err
		}
		return Translation{
			SQL:    "(" + l.SQL + " " + v.op + " " + r.SQL + ")",
			Params: append(append([]any{}, l.Params...), r.Params...),
		}, nil
	case condExpr:
		c, err := renderExpr(v.cond)
		if err != nil {
			return Translation{}, err
		}
		t, err := renderExpr(v.then)
		if err != nil {
			return Translation{}, err
		}
		e, err := renderExpr(v.els)
		if err != nil {
			return Translation{}, err
		}
		params := append(append(append([]any{}, c.Params...), t.Params...), e.Params...)
		return Translation{SQL: "(CASE WHEN " + c.SQL + " THEN " + t.SQL + " ELSE " + e.SQL + " END)", Params: params}, nil
	default:
		return Translation{}, wrapErrf(op, ErrInternal, "unexpected sqlExpr type %T", e)
	}
}
