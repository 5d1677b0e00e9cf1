package sql

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/syssam/tessera/dialect"
)

// validIdentifierRe validates SQL identifiers (alphanumeric, underscores, dots for schema.name)
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidIdentifier reports whether s can be used as a table or column name.
func ValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// Quote quotes an identifier for the given dialect. A dotted identifier is
// quoted part by part.
func Quote(name, ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		switch name {
		case dialect.Postgres:
			parts[i] = pq.QuoteIdentifier(p)
		case dialect.MySQL:
			parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
		default:
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Rebind rewrites the '?' placeholders of query to the placeholder style
// of the dialect. Postgres uses ordinal $n placeholders; the other
// dialects accept '?' as is. Question marks inside string literals are
// left untouched.
func Rebind(name, query string) string {
	if name != dialect.Postgres || !strings.Contains(query, "?") {
		return query
	}
	var (
		b      strings.Builder
		n      int
		quoted bool
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Placeholders returns n comma separated '?' placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
