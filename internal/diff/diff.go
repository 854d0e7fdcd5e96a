// Package diff computes word-level change summaries between two revisions of
// a proposed text.
package diff

import "strings"

// Change is the portion of a text that differs between two revisions.
type Change struct {
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// Empty reports whether the two revisions were word-for-word identical.
func (c Change) Empty() bool {
	return c.OldValue == "" && c.NewValue == ""
}

// Words tokenizes both inputs on whitespace, strips the longest shared word
// prefix, then the longest shared word suffix of what remains, and rejoins the
// differing words with single spaces.
//
// A pure insertion or deletion is reported exactly. When words were replaced
// on both sides the shared suffix is kept as trailing context, so "food boo
// bop" -> "food baz a bop" reads as "boo bop" -> "baz a bop".
func Words(previous, current string) Change {
	prev := strings.Fields(previous)
	cur := strings.Fields(current)

	prefix := commonPrefix(prev, cur)
	suffix := commonSuffix(prev[prefix:], cur[prefix:])

	oldEnd := len(prev) - suffix
	newEnd := len(cur) - suffix
	if oldEnd > prefix && newEnd > prefix {
		oldEnd = len(prev)
		newEnd = len(cur)
	}

	return Change{
		OldValue: strings.Join(prev[prefix:oldEnd], " "),
		NewValue: strings.Join(cur[prefix:newEnd], " "),
	}
}

func commonPrefix(a, b []string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// commonSuffix is bounded by the shorter slice so it can never reach back
// into the prefix the caller already removed.
func commonSuffix(a, b []string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
