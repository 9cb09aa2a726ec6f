// Package subject implements the dot-delimited subject grammar used by the bus
// and the wildcard matching between concrete subjects and subscription
// patterns.
//
// A subject is one or more non-empty tokens joined by ".". A pattern is a
// subject in which any token may be "*" (exactly one token) and the final token
// may be ">" (one or more trailing tokens).
package subject

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
)

const (
	// Separator divides subject tokens.
	Separator = "."

	// WildcardSingle matches exactly one token.
	WildcardSingle = "*"

	// WildcardTail matches one or more trailing tokens. Only legal as the last
	// token of a pattern.
	WildcardTail = ">"
)

// Tokens splits s on the separator. The empty string has no tokens.
func Tokens(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, Separator)
}

// Join builds a subject from tokens.
func Join(tokens ...string) string {
	return strings.Join(tokens, Separator)
}

// ValidateSubject reports whether s is a concrete publishable subject: non-empty,
// no empty tokens and no wildcard tokens.
func ValidateSubject(s string) error {
	tokens, err := splitNonEmpty(s, errspkg.ErrInvalidSubject)
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		if tok == WildcardSingle || tok == WildcardTail {
			return fmt.Errorf("%w: %q contains wildcard token %q", errspkg.ErrInvalidSubject, s, tok)
		}
	}
	return nil
}

// ValidatePattern reports whether p is a well-formed subscription pattern.
func ValidatePattern(p string) error {
	tokens, err := splitNonEmpty(p, errspkg.ErrInvalidPattern)
	if err != nil {
		return err
	}
	for i, tok := range tokens {
		if tok == WildcardTail && i != len(tokens)-1 {
			return fmt.Errorf("%w: %q uses %q before the last token", errspkg.ErrInvalidPattern, p, WildcardTail)
		}
	}
	return nil
}

func splitNonEmpty(s string, sentinel error) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", sentinel)
	}
	tokens := Tokens(s)
	for _, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("%w: %q has an empty token", sentinel, s)
		}
	}
	return tokens, nil
}

// Matches reports whether subject matches pattern. It never panics; a pattern
// that places ">" anywhere but last matches nothing.
func Matches(subject, pattern string) bool {
	if subject == "" || pattern == "" {
		return false
	}
	return MatchTokens(Tokens(subject), Tokens(pattern))
}

// MatchTokens is Matches over pre-split tokens. The registry keeps patterns
// split so a publish only splits the subject once.
func MatchTokens(subject, pattern []string) bool {
	for i, pt := range pattern {
		if pt == WildcardTail {
			// ">" must be last and must consume at least one token.
			return i == len(pattern)-1 && len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if pt != WildcardSingle && pt != subject[i] {
			return false
		}
	}
	return len(subject) == len(pattern)
}
