//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sandbox

import "strings"

// Syntax describes the lexical forms of a script language that StripSigils
// must leave untouched.
type Syntax struct {
	// LineComment starts a comment that runs to the end of the line.
	LineComment string
	// LongBrackets enables Lua long strings and comments ([[...]], [==[...]==]).
	LongBrackets bool
	// TripleQuotes enables ''' and """ strings.
	TripleQuotes bool
}

// Predefined syntaxes.
var (
	SyntaxLua = Syntax{LineComment: "--", LongBrackets: true}
	SyntaxCEL = Syntax{LineComment: "//", TripleQuotes: true}
)

// StripSigils rewrites binding references such as $flow.input to flow.input
// so that scripts may name bindings the way flow files do. A `$` inside a
// string literal or a comment is kept as written.
func StripSigils(source string, syn Syntax) string {
	if !strings.Contains(source, "$") {
		return source
	}
	var b strings.Builder
	b.Grow(len(source))
	for i := 0; i < len(source); {
		c := source[i]
		switch {
		case syn.LineComment != "" && strings.HasPrefix(source[i:], syn.LineComment):
			start := i
			i += len(syn.LineComment)
			if syn.LongBrackets {
				if level, ok := longBracketOpen(source, i); ok {
					i = longBracketEnd(source, i+level+2, level)
					b.WriteString(source[start:i])
					continue
				}
			}
			if nl := strings.IndexByte(source[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(source)
			}
			b.WriteString(source[start:i])
		case syn.LongBrackets && c == '[':
			level, ok := longBracketOpen(source, i)
			if !ok {
				b.WriteByte(c)
				i++
				continue
			}
			end := longBracketEnd(source, i+level+2, level)
			b.WriteString(source[i:end])
			i = end
		case syn.TripleQuotes && (strings.HasPrefix(source[i:], `"""`) || strings.HasPrefix(source[i:], `'''`)):
			quote := source[i : i+3]
			end := len(source)
			if j := strings.Index(source[i+3:], quote); j >= 0 {
				end = i + 3 + j + 3
			}
			b.WriteString(source[i:end])
			i = end
		case c == '"' || c == '\'':
			end := quotedEnd(source, i)
			b.WriteString(source[i:end])
			i = end
		case c == '$' && i+1 < len(source) && isIdentStart(source[i+1]):
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// longBracketOpen reports whether a Lua long bracket ([[ or [=*[) starts at
// i and returns its level.
func longBracketOpen(s string, i int) (int, bool) {
	if i >= len(s) || s[i] != '[' {
		return 0, false
	}
	j := i + 1
	for j < len(s) && s[j] == '=' {
		j++
	}
	if j < len(s) && s[j] == '[' {
		return j - i - 1, true
	}
	return 0, false
}

// longBracketEnd returns the index just past the closing bracket of the
// given level, searching from i.
func longBracketEnd(s string, i, level int) int {
	closing := "]" + strings.Repeat("=", level) + "]"
	if j := strings.Index(s[i:], closing); j >= 0 {
		return i + j + len(closing)
	}
	return len(s)
}

// quotedEnd returns the index just past the quoted string starting at i.
// Unterminated strings end at the line break, as the compilers report them.
func quotedEnd(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
