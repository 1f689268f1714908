package docql

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docql/docql/lexer"
)

// safeNameRe is the safe-name regex: a plain path segment must be
// alphanumeric plus '_'/'-', and must not start with '$'.
var safeNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// SegmentKind distinguishes the four shapes a FieldPath segment can take.
type SegmentKind int

const (
	// SegmentName is a plain field name, e.g. "name" in "name.first".
	SegmentName SegmentKind = iota
	// SegmentIndex is a non-negative integer array index, e.g. "0" in "items.0.name".
	SegmentIndex
	// SegmentPositionalMatched is the bare "$" token.
	SegmentPositionalMatched
	// SegmentPositionalAll is the "$[]" token.
	SegmentPositionalAll
	// SegmentPositionalFiltered is a "$[ident]" token.
	SegmentPositionalFiltered
)

// Segment is one element of a FieldPath.
type Segment struct {
	Kind  SegmentKind
	Name  string // set for SegmentName and SegmentPositionalFiltered (the ident)
	Index int    // set for SegmentIndex
}

// FieldPath is a non-empty, parsed sequence of path segments.
type FieldPath []Segment

// reservedPositionalTokens are the literal path tokens validate_name must
// reject even though they would otherwise pass the safe-name regex check
// path (they never reach validate_name as plain names; they are parsed as
// distinct segment kinds by ParsePath, but a caller may still probe
// ValidateName directly).
var reservedPositionalTokens = map[string]bool{
	"$": true,
}

// ValidateName reports whether text is a safe, plain path-segment name: it
// matches ^[A-Za-z_][A-Za-z0-9_-]*$ and is not a reserved positional token.
func ValidateName(text string) bool {
	if reservedPositionalTokens[text] {
		return false
	}
	return safeNameRe.MatchString(text)
}

// ParsePath parses a dotted field path into its segments.
// Plain segments must pass ValidateName; integer segments must be
// non-negative; the positional tokens $, $[], and $[ident] are recognised
// verbatim. An empty path is rejected.
func ParsePath(text string) (FieldPath, error) {
	const op = "docql.ParsePath"
	if text == "" {
		return nil, wrapErr(op, ErrInvalidPath, "empty field path")
	}

	var segs FieldPath
	l := lexer.New(text)
	for {
		seg, err := scanSegment(l)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %q: %v", op, ErrInvalidPath, text, err)
		}
		segs = append(segs, seg)

		if lexer.IsEOF(l.Peek()) {
			break
		}
		if !l.Expect(lexer.IsDot) {
			return nil, fmt.Errorf("%s: %w: %q: expected '.' at offset %d", op, ErrInvalidPath, text, l.Off())
		}
		l.Reduce() // discard the separator so the next segment starts clean
		if lexer.IsEOF(l.Peek()) {
			return nil, fmt.Errorf("%s: %w: %q: trailing '.'", op, ErrInvalidPath, text)
		}
	}
	return segs, nil
}

// scanSegment scans one path segment starting at the lexer's current
// offset, up to (but not consuming) the next '.' or end of input.
func scanSegment(l *lexer.Lexer) (Segment, error) {
	if l.Expect(lexer.IsDollar) {
		l.Reduce() // discard the consumed "$"
		return scanPositionalSegment(l)
	}

	if !l.Some(lexer.IsNameRune) {
		return Segment{}, fmt.Errorf("expected field name at offset %d", l.Off())
	}
	name := l.Reduce()
	if isAllDigits(name) {
		idx, err := strconv.Atoi(name)
		if err != nil {
			return Segment{}, fmt.Errorf("invalid integer segment %q", name)
		}
		return Segment{Kind: SegmentIndex, Index: idx}, nil
	}
	if !ValidateName(name) {
		return Segment{}, fmt.Errorf("invalid path segment %q", name)
	}
	return Segment{Kind: SegmentName, Name: name}, nil
}

// scanPositionalSegment scans a positional token after the leading '$' has
// already been consumed and reduced away.
func scanPositionalSegment(l *lexer.Lexer) (Segment, error) {
	if !l.Expect(lexer.IsBracketOpen) {
		return Segment{Kind: SegmentPositionalMatched}, nil
	}
	l.Reduce() // discard "["

	if l.Expect(lexer.IsBracketClose) {
		l.Reduce()
		return Segment{Kind: SegmentPositionalAll}, nil
	}

	if !l.Some(lexer.IsNameRune) {
		return Segment{}, fmt.Errorf("empty array filter identifier in $[...]")
	}
	ident := l.Reduce()
	if !l.Expect(lexer.IsBracketClose) {
		return Segment{}, fmt.Errorf("missing closing ']' in $[%s", ident)
	}
	l.Reduce()
	return Segment{Kind: SegmentPositionalFiltered, Name: ident}, nil
}

// isAllDigits reports whether s is non-empty and consists only of ASCII digits.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ToJSONPath renders a FieldPath as a host-store JSON-path expression
// rooted at $: plain segments become ".name" and integer segments
// become "[N]". Positional segments are not rendered: a path that still
// contains one is rejected with ErrUnresolvedPositional (the update
// translator resolves them with planPath before rendering; see
// positional.go). Every rune this function emits has already passed
// ValidateName or is a digit, so the result never needs escaping.
func ToJSONPath(p FieldPath) (string, error) {
	const op = "docql.ToJSONPath"
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range p {
		switch seg.Kind {
		case SegmentName:
			if !ValidateName(seg.Name) {
				return "", fmt.Errorf("%s: %w: %q", op, ErrInvalidPath, seg.Name)
			}
			b.WriteString(".")
			b.WriteString(seg.Name)
		case SegmentIndex:
			if seg.Index < 0 {
				return "", fmt.Errorf("%s: %w: negative index %d", op, ErrInvalidPath, seg.Index)
			}
			b.WriteString("[")
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteString("]")
		case SegmentPositionalMatched, SegmentPositionalAll, SegmentPositionalFiltered:
			return "", fmt.Errorf("%s: %w: unresolved positional segment in path", op, ErrUnresolvedPositional)
		default:
			return "", fmt.Errorf("%s: %w: unknown segment kind %d", op, ErrInternal, seg.Kind)
		}
	}
	return b.String(), nil
}

// checkFieldValidator consults the caller-supplied validate_field_path
// primitive, when one was provided via WithFieldValidator. It is
// a no-op when the caller did not supply one, in which case ValidateName
// (already applied by ParsePath) is the only safety check a path undergoes.
func checkFieldValidator(o options, rawPath string) error {
	const op = "docql.validateFieldPath"
	if o.withFieldValidator == nil {
		return nil
	}
	if !o.withFieldValidator(rawPath) {
		return wrapErrf(op, ErrInvalidPath, "field path %q rejected by validator", rawPath)
	}
	return nil
}

// encodeLiteral encodes a literal document value: every value
// is rendered as either an inlined json('literal') SQL call with zero
// params, or a "?"/"json(?)" placeholder with the value appended to params.
func encodeLiteral(v Value) (Translation, error) {
	const op = "docql.encodeLiteral"
	switch val := v.(type) {
	case nil:
		return Translation{SQL: "json('null')"}, nil
	case bool:
		if val {
			return Translation{SQL: "json(?)", Params: []any{"true"}}, nil
		}
		return Translation{SQL: "json(?)", Params: []any{"false"}}, nil
	case string:
		return Translation{SQL: "?", Params: []any{val}}, nil
	case int:
		return Translation{SQL: "?", Params: []any{int64(val)}}, nil
	case int32:
		return Translation{SQL: "?", Params: []any{int64(val)}}, nil
	case int64:
		return Translation{SQL: "?", Params: []any{val}}, nil
	case float64:
		return Translation{SQL: "?", Params: []any{val}}, nil
	case float32:
		return Translation{SQL: "?", Params: []any{float64(val)}}, nil
	case Decimal:
		return Translation{SQL: "?", Params: []any{string(val)}}, nil
	case []byte:
		return Translation{SQL: "?", Params: []any{val}}, nil
	case ObjectID:
		return Translation{SQL: "?", Params: []any{objectIDHex(val)}}, nil
	case Timestamp:
		return Translation{SQL: "?", Params: []any{val.UTC().Format("2006-01-02T15:04:05.000Z")}}, nil
	case *Object, *Array, map[string]any, []any:
		b, err := canonicalJSON(val)
		if err != nil {
			return Translation{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidArgument, err)
		}
		return Translation{SQL: "json(?)", Params: []any{string(b)}}, nil
	default:
		return Translation{}, fmt.Errorf("%s: %w: unsupported literal type %T", op, ErrInvalidArgument, v)
	}
}

const hexDigits = "0123456789abcdef"

func objectIDHex(id ObjectID) string {
	var b [24]byte
	for i, c := range id {
		b[i*2] = hexDigits[c>>4]
		b[i*2+1] = hexDigits[c&0xf]
	}
	return string(b[:])
}

// canonicalJSON serialises a document sub-tree to RFC-8259 JSON with no
// insignificant whitespace and keys in input order.
func canonicalJSON(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case *Object:
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range val.Keys() {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			b.Write(kb)
			b.WriteByte(':')
			fv, _ := val.Get(k)
			vb, err := canonicalJSON(fv)
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case *Array:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range val.Values {
			if i > 0 {
				b.WriteByte(',')
			}
			vb, err := canonicalJSON(e)
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	case map[string]any:
		obj, err := toObject(val)
		if err != nil {
			return nil, err
		}
		return canonicalJSON(obj)
	case []any:
		arr := NewArray(val...)
		return canonicalJSON(arr)
	case ObjectID:
		return json.Marshal(objectIDHex(val))
	case Timestamp:
		return json.Marshal(val.UTC().Format("2006-01-02T15:04:05.000Z"))
	default:
		return json.Marshal(val)
	}
}
