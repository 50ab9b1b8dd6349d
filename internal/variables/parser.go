// Package variables resolves $(namespace:name) placeholders against Companion endpoints.
package variables

import (
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches an optional [index] prefix followed by $(namespace:name).
var tokenPattern = regexp.MustCompile(`(?:\[(\d+)\])?\$\(([^:()\s]+):([^()]+)\)`)

// Token is one placeholder found in a template string.
type Token struct {
	Raw             string // exact literal text, including any [index] prefix
	Namespace       string
	Name            string
	ConnectionIndex int  // 0 when no prefix was given
	Indexed         bool // true when an [index] prefix was present
}

// Variable returns the namespace:name form of the token.
func (t Token) Variable() string {
	return t.Namespace + ":" + t.Name
}

// Parse extracts tokens from a template in order of occurrence. Literal "$(" has no
// escape form; anything that does not match the grammar is left as literal text.
func Parse(template string) []Token {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tok := Token{Raw: m[0], Namespace: m[2], Name: strings.TrimSpace(m[3])}
		if m[1] != "" {
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				// Index too large to address any connection.
				idx = -1
			}
			tok.ConnectionIndex = idx
			tok.Indexed = true
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// HasTokens reports whether the template contains at least one placeholder.
func HasTokens(template string) bool {
	return tokenPattern.MatchString(template)
}

// Substitute replaces every token occurrence in a single left-to-right pass. All
// occurrences of the same literal get the same value, looked up once; a plain token
// that is also the tail of an indexed one is never rewritten inside it.
func Substitute(template string, tokens []Token, value func(Token) string) string {
	byRaw := make(map[string]Token, len(tokens))
	for _, tok := range tokens {
		byRaw[tok.Raw] = tok
	}
	cache := make(map[string]string, len(byRaw))
	return tokenPattern.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := cache[m]; ok {
			return v
		}
		tok, ok := byRaw[m]
		if !ok {
			return m
		}
		v := value(tok)
		cache[m] = v
		return v
	})
}

// StripTokens removes every placeholder while keeping surrounding literal text.
func StripTokens(template string) string {
	return tokenPattern.ReplaceAllString(template, "")
}
