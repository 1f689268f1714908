package docql

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// canonicalKeys returns a plain map's keys in sorted order. It is used
// where a map[string]any is normalised into an *Object (toObject in
// document.go), so a translation never depends on map iteration order.
// Array members, such as those of $and/$or/$in, are not reordered.
func canonicalKeys(m map[string]any) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
