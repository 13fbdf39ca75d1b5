// Package subject derives the exploded form of bibliographic subject
// headings.
//
// A compound heading such as "Arabian Peninsula -- Religion -- Ancient
// History." is indexed under every heading it extends, so the exploded
// form is the list of cumulative prefixes ending at each delimiter plus
// the full heading, with one trailing line-punctuation period removed:
//
//	Arabian Peninsula
//	Arabian Peninsula -- Religion
//	Arabian Peninsula -- Religion -- Ancient History
package subject

import "strings"

// Delimiter separates the components of a compound subject heading.
// Only this exact sequence counts; "--" without the surrounding spaces is
// part of the heading text.
const Delimiter = " -- "

// terminal is the line punctuation stripped from the end of a heading.
const terminal = "."

// Explode returns the exploded form of every heading in subjects,
// flattened in input order. The result is never nil, so an empty input
// produces an empty (not absent) sequence.
func Explode(subjects []string) []string {
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		out = appendLiteral(out, s)
	}
	return out
}

// ExplodeLiteral returns the exploded form of a single heading. The
// result always has one more element than the number of non-overlapping
// delimiter occurrences in the trimmed heading.
func ExplodeLiteral(s string) []string {
	return appendLiteral(nil, s)
}

func appendLiteral(out []string, s string) []string {
	// TrimSuffix removes at most one period: "Title.." keeps "Title.".
	s = strings.TrimSuffix(s, terminal)

	start := 0
	for {
		i := strings.Index(s[start:], Delimiter)
		if i < 0 {
			break
		}
		out = append(out, s[:start+i])
		start += i + len(Delimiter)
	}
	return append(out, s)
}
