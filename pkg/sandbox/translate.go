package sandbox

import "strings"

// translate rewrites C-style logical and comparison operators into Lua syntax. Text inside
// quoted string literals is copied unchanged.
func translate(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 8)

	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]

		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			quote = c
			b.WriteByte(c)
		case strings.HasPrefix(src[i:], "&&"):
			b.WriteString(" and ")
			i++
		case strings.HasPrefix(src[i:], "||"):
			b.WriteString(" or ")
			i++
		case strings.HasPrefix(src[i:], "!=="), strings.HasPrefix(src[i:], "==="):
			if c == '!' {
				b.WriteString("~=")
			} else {
				b.WriteString("==")
			}
			i += 2
		case strings.HasPrefix(src[i:], "!="):
			b.WriteString("~=")
			i++
		case c == '!':
			b.WriteString(" not ")
		default:
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}
