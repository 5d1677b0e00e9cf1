package gen

import (
	"go/token"
	"strings"
	"sync"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	rules = inflect.NewDefaultRuleset()

	acronymsMu sync.RWMutex
	acronyms   = map[string]struct{}{
		"ACL": {}, "API": {}, "CPU": {}, "CSS": {}, "DNS": {}, "EOF": {}, "GUID": {},
		"HTML": {}, "HTTP": {}, "HTTPS": {}, "ID": {}, "IP": {}, "JSON": {}, "SKU": {},
		"SQL": {}, "SSH": {}, "TCP": {}, "TLS": {}, "TTL": {}, "UDP": {}, "UI": {},
		"URI": {}, "URL": {}, "UUID": {}, "VAT": {}, "XML": {},
	}
)

// AddAcronym registers word as an acronym kept upper case in generated
// identifiers, e.g. AddAcronym("GTIN") turns "gtin_code" into GTINCode.
func AddAcronym(word string) {
	acronymsMu.Lock()
	defer acronymsMu.Unlock()
	acronyms[strings.ToUpper(word)] = struct{}{}
}

func isAcronym(word string) bool {
	acronymsMu.RLock()
	defer acronymsMu.RUnlock()
	_, ok := acronyms[strings.ToUpper(word)]
	return ok
}

// pascal converts a snake, kebab or mixed case name to an exported Go
// identifier: "user_id" becomes UserID and "orderLine" becomes OrderLine.
func pascal(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	// Casers are stateful and must not be shared between generator workers.
	title := cases.Title(language.English, cases.NoLower)
	var b strings.Builder
	for _, w := range words {
		if isAcronym(w) {
			b.WriteString(strings.ToUpper(w))
			continue
		}
		b.WriteString(title.String(w))
	}
	return b.String()
}

// snake converts a Go identifier to snake case: "OrderLine" becomes
// order_line and "HTTPCode" becomes http_code.
func snake(s string) string {
	var (
		b    strings.Builder
		last = -1
	)
	rs := []rune(s)
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			// Start a word after a lower case letter ("userInfo"), or at the
			// last capital of an acronym followed by a word ("HTTPCode").
			if unicode.IsLower(prev) || unicode.IsDigit(prev) ||
				(nextLower && last != i-1 && unicode.IsLetter(prev)) {
				last = i
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// singular returns the singular form of a plural name, used to name
// methods adding or removing one association target.
func singular(s string) string {
	return rules.Singularize(s)
}

// receiver returns a short receiver name for a Go type, made of the
// initials of its words. Names clashing with keywords or with locals
// used by the generated code are lengthened.
func receiver(s string) string {
	s = strings.Trim(s, "[]*&0123456789")
	parts := strings.Split(snake(s), "_")
	var r string
	for _, p := range parts {
		if p != "" {
			r += p[:1]
		}
	}
	for n := 2; reservedLocal(r) && n <= len(parts[0]); n++ {
		r = parts[0][:n]
	}
	if reservedLocal(r) {
		r = "_" + r
	}
	return r
}

var locals = map[string]struct{}{
	"a": {}, "ctx": {}, "e": {}, "err": {}, "es": {}, "i": {}, "id": {}, "m": {}, "n": {},
	"name": {}, "ok": {}, "out": {}, "t": {}, "u": {}, "v": {}, "zero": {},
}

func reservedLocal(name string) bool {
	if name == "" || token.IsKeyword(name) {
		return true
	}
	_, ok := locals[name]
	return ok
}
