package note

import (
	"net/url"
	"regexp"
	"strings"
)

// CanonicalNoteBase is the prefix of every normalized note URL that carries
// a recognizable note id.
const CanonicalNoteBase = "https://www.xiaohongshu.com/explore/"

var notePathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/explore/([A-Za-z0-9]+)/?$`),
	regexp.MustCompile(`^/discovery/item/([A-Za-z0-9]+)/?$`),
	regexp.MustCompile(`^/user/profile/[A-Za-z0-9]+/([A-Za-z0-9]+)/?$`),
}

// NormalizeNoteURL returns the join key for a note. URLs whose path carries
// a note id are rewritten to CanonicalNoteBase+id with query and fragment
// dropped; anything else is returned trimmed. Normalizing twice yields the
// same string.
func NormalizeNoteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	for _, re := range notePathPatterns {
		if m := re.FindStringSubmatch(u.Path); m != nil {
			return CanonicalNoteBase + m[1]
		}
	}
	return raw
}
