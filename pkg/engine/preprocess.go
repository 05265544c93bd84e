package engine

import "strings"

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// preprocessSource rewrites part-program source into plain zygomys syntax.
// Line structure is preserved so interpreter line numbers stay valid.
//
//  1. :keyword becomes the string literal "__kw_keyword", so keywords never
//     collide with user variables.
//  2. kebab-case identifiers become snake_case (round-radius -> round_radius
//     outside keywords), because zygomys reads a hyphen as subtraction.
//  3. ; line comments become // comments.
//
// String literals (double-quoted and backtick) pass through untouched.
func preprocessSource(source string) string {
	var out strings.Builder
	out.Grow(len(source) + len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		c := b[i]
		switch {
		case c == '"':
			j := i + 1
			for j < len(b) && b[j] != '"' {
				if b[j] == '\\' && j+1 < len(b) {
					j++
				}
				j++
			}
			if j < len(b) {
				j++
			}
			out.Write(b[i:j])
			i = j

		case c == '`':
			j := i + 1
			for j < len(b) && b[j] != '`' {
				j++
			}
			if j < len(b) {
				j++
			}
			out.Write(b[i:j])
			i = j

		case c == ';':
			out.WriteString("//")
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				out.WriteByte(b[i])
				i++
			}

		case c == ':' && i+1 < len(b) && b[i+1] == '=':
			out.WriteString(":=")
			i += 2

		case c == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			out.WriteByte('"')
			out.WriteString(kwPrefix)
			out.Write(b[i+1 : j])
			out.WriteByte('"')
			i = j

		case c == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			out.WriteByte('_')
			i++

		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}
