// Package inflect converts between the snake_case identifiers stored in the
// database and the camelCase keys exposed over HTTP.
//
// Conversion is purely lexical on underscore boundaries; it never renames or
// merges identifiers. Columns whose camelCase forms collide are rejected at
// resolve time, so both directions are loss-free for accepted config.
package inflect

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titler = cases.Title(language.English)

// ToCamel converts a snake_case identifier to camelCase: "created_at"
// becomes "createdAt". Leading and consecutive underscores produce no empty
// words.
func ToCamel(snake string) string {
	words := strings.Split(snake, "_")
	var b strings.Builder
	first := true
	for _, w := range words {
		if w == "" {
			continue
		}
		if first {
			b.WriteString(strings.ToLower(w))
			first = false
			continue
		}
		b.WriteString(titler.String(strings.ToLower(w)))
	}
	return b.String()
}

// ToSnake converts a camelCase identifier to snake_case: "createdAt" becomes
// "created_at". Identifiers that are already snake_case pass through
// unchanged.
func ToSnake(camel string) string {
	var b strings.Builder
	for i, r := range camel {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CamelKeys maps every column name of cols to its camelCase form. The second
// return value reports the first pair of columns whose camelCase forms
// collide, or empty strings when there is no collision.
func CamelKeys(cols []string) (map[string]string, [2]string) {
	out := make(map[string]string, len(cols))
	seen := make(map[string]string, len(cols))
	for _, c := range cols {
		camel := ToCamel(c)
		if prev, dup := seen[camel]; dup && prev != c {
			return nil, [2]string{prev, c}
		}
		seen[camel] = c
		out[c] = camel
	}
	return out, [2]string{}
}
