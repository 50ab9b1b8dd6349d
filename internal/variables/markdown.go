package variables

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	escapePattern      = regexp.MustCompile("\\\\([\\\\`*_{}\\[\\]()#+\\-.!~|])")
	imagePattern       = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	linkPattern        = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	boldPattern        = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	italicPattern      = regexp.MustCompile(`\*([^*]+?)\*|\b_([^_]+?)_\b`)
	breakPattern       = regexp.MustCompile(`  \n|\r?\n|\\n`)
	placeholderPattern = regexp.MustCompile("\x00(\\d+)\x00")
)

// stash holds fragments that later passes must not touch.
type stash []string

func (s *stash) put(fragment string) string {
	*s = append(*s, fragment)
	return "\x00" + strconv.Itoa(len(*s)-1) + "\x00"
}

func (s stash) restore(text string) string {
	// Fragments may contain placeholders of their own (an escaped char in link text).
	for i := 0; i < 4 && strings.Contains(text, "\x00"); i++ {
		text = placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
			idx, err := strconv.Atoi(m[1 : len(m)-1])
			if err != nil || idx >= len(s) {
				return ""
			}
			return s[idx]
		})
	}
	return text
}

// RenderMarkdown converts the supported markdown subset into HTML: bold, italic,
// links, images and line breaks. Input HTML is escaped. Backslash-escaped markdown
// punctuation is emitted verbatim.
func RenderMarkdown(text string) string {
	if text == "" {
		return ""
	}
	var st stash
	text = strings.ReplaceAll(text, "\x00", "")

	text = escapePattern.ReplaceAllStringFunc(text, func(m string) string {
		return st.put(html.EscapeString(m[1:]))
	})
	text = html.EscapeString(text)

	text = imagePattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := imagePattern.FindStringSubmatch(m)
		if !safeURL(parts[2]) {
			return m
		}
		return st.put(`<img src="` + parts[2] + `" alt="` + parts[1] + `">`)
	})
	text = linkPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := linkPattern.FindStringSubmatch(m)
		if !safeURL(parts[2]) {
			return m
		}
		return st.put(`<a href="` + parts[2] + `" target="_blank" rel="noopener noreferrer">` + emphasis(parts[1]) + `</a>`)
	})

	text = emphasis(text)
	text = breakPattern.ReplaceAllString(text, "<br>")
	return st.restore(text)
}

func emphasis(text string) string {
	text = boldPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := boldPattern.FindStringSubmatch(m)
		return "<strong>" + parts[1] + parts[2] + "</strong>"
	})
	return italicPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := italicPattern.FindStringSubmatch(m)
		return "<em>" + parts[1] + parts[2] + "</em>"
	})
}

func safeURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(html.UnescapeString(u)))
	return !strings.HasPrefix(lower, "javascript:") && !strings.HasPrefix(lower, "vbscript:")
}
