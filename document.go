package docql

import "time"

// Value is a document tree node: one of nil, bool, int64, float64, Decimal,
// string, []byte, time.Time (Timestamp), ObjectID, *Array, or *Object.
type Value = any

// ObjectID is a 12-byte document identifier, canonically encoded as a
// 24-character lowercase hex string when it must flow through a parameter.
type ObjectID [12]byte

// Decimal is a canonical, string-backed arbitrary precision decimal literal.
// It is kept textual rather than float64 so round-tripping never loses
// precision across the translator boundary.
type Decimal string

// Array is an ordered sequence of document values.
type Array struct {
	Values []Value
}

// NewArray builds an Array from a slice of values.
func NewArray(values ...Value) *Array {
	return &Array{Values: values}
}

// Len returns the number of elements in the array.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Values)
}

// Object is an insertion-ordered string -> Value mapping. Key order is a
// first-class, inspectable property rather than left to incidental Go map
// iteration order, since the query translator's depth-first, left-to-right
// parameter ordering depends on it.
type Object struct {
	keys   []string
	fields map[string]Value
}

// NewObject builds an empty, insertion-ordered Object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Set inserts or overwrites a key, appending it to Keys() only the first
// time it is seen.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.fields[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Len returns the number of fields.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// E is a single key/value pair, used to build a D in document order. It
// mirrors the (key, value) pair shape of ordered document builders such as
// the mongo-go-driver's bson.D/bson.E, which the callers of this package are
// expected to already be familiar with.
type E struct {
	Key   string
	Value Value
}

// D is an ordered document: a sequence of key/value pairs in caller-defined
// order. It is the recommended way to build a filter, update, or stage
// document when key order matters to the caller, since a plain Go map has
// no defined iteration order. Every translator entry point also accepts
// map[string]any for convenience; in that case keys are visited in
// canonical (sorted) order, which is still a pure function of the input but
// will not in general match the order the map literal was written in.
type D []E

// toObject normalises a caller-supplied document (D, map[string]any, or
// *Object) into an *Object, preserving order for D and *Object and
// canonicalizing order for a plain map.
func toObject(v any) (*Object, error) {
	const op = "docql.toObject"
	switch doc := v.(type) {
	case nil:
		return NewObject(), nil
	case *Object:
		if doc == nil {
			return NewObject(), nil
		}
		return doc, nil
	case D:
		o := NewObject()
		for _, e := range doc {
			o.Set(e.Key, e.Value)
		}
		return o, nil
	case map[string]any:
		o := NewObject()
		for _, k := range canonicalKeys(doc) {
			o.Set(k, doc[k])
		}
		return o, nil
	default:
		return nil, wrapErr(op, ErrInvalidArgument, "document must be a docql.D, map[string]any, or *docql.Object")
	}
}

// Timestamp is an alias kept for readability at call sites; the document
// tree represents a Timestamp value as a plain time.Time.
type Timestamp = time.Time
