/*
Package docql compiles document-style queries, updates, and aggregation
pipelines into parameterised SQL fragments suitable for a host store that
stores JSON documents in a column and exposes JSON-path functions such as
json_extract, json_set, json_remove, json_insert, and json_each.

The package never opens a connection, never executes SQL, and never retains
state between calls: every exported function is a pure compilation step from
an immutable document tree to a Translation{SQL, Params} pair.

Translate compiles a filter document into a boolean predicate over a column
named data:

	t, err := docql.Translate(docql.D{
		{Key: "name", Value: "alice"},
		{Key: "age", Value: docql.D{{Key: "$gt", Value: 21}}},
	})
	// t.SQL  == "(json_extract(data,'$.name') = ? AND json_extract(data,'$.age') > ?)"
	// t.Params == []any{"alice", int64(21)}

TranslateUpdate compiles an update document into an expression that
evaluates to the new value of data, and TranslatePipeline compiles an
ordered aggregation pipeline into a single composed SELECT statement.

Field paths are dotted names, optionally carrying positional tokens ($,
$[], $[ident]) that the update translator resolves against a
PositionalContext supplied via WithPositionalContext. Every bareword that
appears unparameterised in the emitted SQL has passed the safe-name check in
ValidateName; every other value flows through the parameter list.
*/
package docql
