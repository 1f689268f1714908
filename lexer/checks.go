package lexer

import (
	"strings"
	"unicode"
)

// check if a given rune matches a given criteria
type CheckFn func(rune) bool

// These predicates are the field-path grammar's token classes: a FieldPath
// is a dot-separated run of name runes, integer segments, and the
// positional tokens $, $[], $[ident] (see docql's path.go).
var (
	IsEOF          = Eq(RuneEOF)
	IsNumber       = unicode.IsDigit
	IsLetter       = unicode.IsLetter
	IsDot          = Eq('.')
	IsDollar       = Eq('$')
	IsBracketOpen  = Eq('[')
	IsBracketClose = Eq(']')
	IsNameRune     = Or(unicode.IsLetter, unicode.IsDigit, In("_-"))
)

func Eq(valid rune) CheckFn {
	return func(r rune) bool { return r == valid }
}

func In(valid string) CheckFn {
	return func(r rune) bool { return strings.ContainsRune(valid, r) }
}

func Not(valid CheckFn) CheckFn {
	return func(r rune) bool { return !valid(r) }
}

func Or(checks ...CheckFn) CheckFn {
	return func(r rune) bool {
		for _, valid := range checks {
			if valid(r) {
				return true
			}
		}
		return false
	}
}

func And(checks ...CheckFn) CheckFn {
	return func(r rune) bool {
		for _, valid := range checks {
			if !valid(r) {
				return false
			}
		}
		return true
	}
}
