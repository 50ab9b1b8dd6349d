package variables

import (
	"strings"

	"github.com/companion-board/backend/internal/models"
)

// ResolveURL maps a connection index to a base URL. Index 0 is the default connection;
// k >= 1 addresses connections[k-1]. A missing or empty URL reports false, which
// callers treat as "no value" for the token.
func ResolveURL(index int, defaultURL string, connections []models.Connection) (string, bool) {
	var u string
	switch {
	case index == 0:
		u = defaultURL
	case index >= 1 && index <= len(connections):
		u = connections[index-1].URL
	default:
		return "", false
	}
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u == "" {
		return "", false
	}
	return u, true
}

// AnyResolvable reports whether at least one connection, default included, has a URL.
func AnyResolvable(defaultURL string, connections []models.Connection) bool {
	if _, ok := ResolveURL(0, defaultURL, connections); ok {
		return true
	}
	for i := range connections {
		if _, ok := ResolveURL(i+1, defaultURL, connections); ok {
			return true
		}
	}
	return false
}
