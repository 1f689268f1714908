package docql

import "fmt"

// Translation is the immutable { sql, params } pair every translator
// returns. Every "?" placeholder in SQL corresponds positionally to
// one entry in Params.
type Translation struct {
	SQL    string
	Params []any
}

// WhereClause is an alias of Translation. The translators themselves
// return Translation.
type WhereClause = Translation

// wrapErr formats the fixed error shape used throughout the translators:
// "<op>: <sentinel>: <detail>". It never attaches a dynamic payload beyond
// that formatted message.
func wrapErr(op string, sentinel error, detail string) error {
	return fmt.Errorf("%s: %w: %s", op, sentinel, detail)
}

func wrapErrf(op string, sentinel error, format string, args ...any) error {
	return wrapErr(op, sentinel, fmt.Sprintf(format, args...))
}
