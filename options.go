package docql

// options carries the caller-supplied collaborators every translator entry
// point accepts. It is never mutated once getOpts returns and never shared
// across calls; the translators stay stateless and retain nothing.
type options struct {
	withFieldValidator func(path string) bool
	withPositionalCtx  *PositionalContext
	withMaxPathDepth   int
	withInsertContext  bool
}

// Option - how options are passed as args
type Option func(*options) error

func getDefaultOptions() options {
	return options{
		withMaxPathDepth: 32,
	}
}

func getOpts(opt ...Option) (options, error) {
	opts := getDefaultOptions()
	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(&opts); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// WithFieldValidator supplies the validate_field_path(path) -> ok|reject
// primitive the host store's collaborators expose. When it is not provided,
// every path is accepted as long as it satisfies the safe-name regex.
func WithFieldValidator(validate func(path string) bool) Option {
	const op = "docql.WithFieldValidator"
	return func(o *options) error {
		if validate == nil {
			return wrapErr(op, ErrInvalidParameter, "missing validator func")
		}
		o.withFieldValidator = validate
		return nil
	}
}

// WithPositionalContext supplies the PositionalContext the update translator
// consumes to resolve $, $[], and $[ident] tokens.
func WithPositionalContext(ctx *PositionalContext) Option {
	const op = "docql.WithPositionalContext"
	return func(o *options) error {
		if ctx == nil {
			return wrapErr(op, ErrInvalidParameter, "missing positional context")
		}
		o.withPositionalCtx = ctx
		return nil
	}
}

// WithInsertContext signals that the update is being applied as part of an
// upsert that is inserting a new document, so $setOnInsert fields take
// effect; without it, $setOnInsert fields are skipped.
func WithInsertContext(insert bool) Option {
	return func(o *options) error {
		o.withInsertContext = insert
		return nil
	}
}

// WithMaxPathDepth bounds the number of segments accepted in a FieldPath, so
// a pathologically deep path cannot drive the translators into quadratic
// recursion. The bound is checked for query field paths (including those of
// a $match stage) and update target paths; the paths of the other
// aggregation stages are not checked against it.
func WithMaxPathDepth(n int) Option {
	const op = "docql.WithMaxPathDepth"
	return func(o *options) error {
		if n <= 0 {
			return wrapErr(op, ErrInvalidParameter, "max path depth must be positive")
		}
		o.withMaxPathDepth = n
		return nil
	}
}
