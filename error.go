package docql

import "errors"

// The translators reject with one of these sentinel errors, wrapped with
// fmt.Errorf("%s: %w: ...", op, Err...) at the point of detection so a
// caller can both errors.Is against a stable kind and read a message naming
// the offending key, path, or value. No rejectable condition carries a
// dynamic payload beyond that formatted message.
var (
	ErrInternal             = errors.New("internal error")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrInvalidPath          = errors.New("invalid path")
	ErrInvalidOperator      = errors.New("invalid operator")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrConflictingUpdate    = errors.New("conflicting update")
	ErrUnresolvedPositional = errors.New("unresolved positional operator")
	ErrInvalidStage         = errors.New("invalid stage")
	ErrInvalidExpression    = errors.New("invalid expression")
	ErrUnsupported          = errors.New("unsupported")
)
