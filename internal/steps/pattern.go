package steps

import (
	"regexp"
	"strings"
)

// compilePattern turns a step DSL pattern — plain text with parenthesized
// capture groups, e.g. `I echo the message "(.*)"` — into an anchored
// regular expression. Everything outside parentheses is escaped literally;
// the contents of each top-level `(...)` group are discarded and replaced
// with a non-greedy `(.+?)`, per §4.4. Nested parentheses are not a construct
// of this DSL and are treated as part of the group they appear inside.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteByte('^')

	depth := 0
	for _, r := range pattern {
		switch {
		case r == '(' && depth == 0:
			depth++
			sb.WriteString("(.+?)")
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		default:
			// inside a capture group: its literal content is discarded
		}
	}
	sb.WriteByte('$')

	return regexp.Compile(sb.String())
}
