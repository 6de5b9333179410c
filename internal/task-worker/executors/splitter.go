package executors

import "strings"

// SplitStatements cuts SQL text on top-level semicolons. dialect is the
// gorm dialector name of the target database. Semicolons inside quoted
// strings, quoted identifiers and comments never split, and on postgres
// neither do semicolons inside $tag$ quoted bodies. Backslash escapes in
// strings are honoured on mysql only. Chunks that hold only whitespace or
// comments are dropped.
func SplitStatements(text, dialect string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote byte
	)
	backslash := dialect == "mysql"
	dollar := dialect == "postgres"
	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		cur.Reset()
		if stmt != "" && strings.TrimSpace(stripComments(stmt)) != "" {
			out = append(out, stmt)
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				// doubled quote is an escaped quote
				if i+1 < len(text) && text[i+1] == quote {
					cur.WriteByte(text[i+1])
					i++
					continue
				}
				quote = 0
			} else if backslash && c == '\\' && quote != '`' && i+1 < len(text) {
				cur.WriteByte(text[i+1])
				i++
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteByte(c)
		case dollar && c == '$':
			tag, ok := dollarTag(text, i)
			if !ok {
				cur.WriteByte(c)
				break
			}
			end := strings.Index(text[i+len(tag):], tag)
			if end < 0 {
				cur.WriteString(text[i:])
				i = len(text)
				break
			}
			stop := i + len(tag) + end + len(tag)
			cur.WriteString(text[i:stop])
			i = stop - 1
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				end = len(text) - i
			}
			cur.WriteString(text[i : i+end])
			i += end - 1
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				cur.WriteString(text[i:])
				i = len(text)
				break
			}
			cur.WriteString(text[i : i+2+end+2])
			i += 2 + end + 1
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// dollarTag returns the $tag$ opener at text[i]. The tag may be empty but
// cannot start with a digit, so $1 parameters are not mistaken for quotes.
func dollarTag(text string, i int) (string, bool) {
	if i > 0 && isIdentByte(text[i-1]) {
		return "", false
	}
	for j := i + 1; j < len(text); j++ {
		c := text[j]
		if c == '$' {
			return text[i : j+1], true
		}
		if !isIdentByte(c) || (j == i+1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// stripComments removes -- and /* */ comments outside quotes.
func stripComments(stmt string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '$':
			tag, ok := dollarTag(stmt, i)
			if !ok {
				b.WriteByte(c)
				break
			}
			end := strings.Index(stmt[i+len(tag):], tag)
			if end < 0 {
				b.WriteString(stmt[i:])
				return b.String()
			}
			stop := i + len(tag) + end + len(tag)
			b.WriteString(stmt[i:stop])
			i = stop - 1
		case c == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
			for i < len(stmt) && stmt[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
			end := strings.Index(stmt[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += 2 + end + 1
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// leadingKeyword returns the upper-cased first word of stmt after comments.
func leadingKeyword(stmt string) string {
	s := strings.TrimLeft(stripComments(stmt), " \t\r\n(")
	end := strings.IndexAny(s, " \t\r\n(;")
	if end < 0 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

// statementVerb returns the keyword that decides what a statement does.
// For WITH statements that is the first keyword after the CTE list, found
// as the first SELECT, INSERT, UPDATE, DELETE, MERGE or VALUES outside
// parentheses. It falls back to WITH when none is found.
func statementVerb(stmt string) string {
	first := leadingKeyword(stmt)
	if first != "WITH" {
		return first
	}
	s := stripComments(stmt)
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '$':
			if tag, ok := dollarTag(s, i); ok {
				end := strings.Index(s[i+len(tag):], tag)
				if end < 0 {
					return first
				}
				i += len(tag) + end + len(tag) - 1
			}
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && isIdentByte(c) && (i == 0 || !isIdentByte(s[i-1])):
			j := i
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			switch w := strings.ToUpper(s[i:j]); w {
			case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE", "VALUES":
				return w
			}
			i = j - 1
		}
	}
	return first
}

// returnsRows reports whether a statement is read through a cursor rather
// than executed for its affected-row count. WITH statements whose main
// verb is a write are executed so their row count is attributed.
func returnsRows(stmt string) bool {
	switch statementVerb(stmt) {
	case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES", "DESCRIBE", "DESC":
		return true
	}
	return false
}

// preview shortens a statement for logs.
func preview(stmt string) string {
	s := strings.Join(strings.Fields(stmt), " ")
	const max = 160
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
