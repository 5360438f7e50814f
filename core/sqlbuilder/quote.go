package sqlbuilder

import (
	"regexp"
	"strings"

	"github.com/stokaro/architect/core/apperr"
)

// safeIdent mirrors the resolver's identifier character set. Anything
// outside it reaching the builder means validated config was bypassed.
var safeIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdent double-quotes an identifier, doubling any embedded quotes.
// Identifiers that escape the resolver's character set are refused with an
// UnsafeIdentifierError rather than quoted, since they should not exist on
// any validated path.
func QuoteIdent(name string) (string, error) {
	if !safeIdent.MatchString(name) {
		return "", &apperr.UnsafeIdentifierError{Identifier: name}
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}
