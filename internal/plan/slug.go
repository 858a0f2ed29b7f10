package plan

import "strings"

// maxSlugLen keeps derived ids readable in file names and logs.
const maxSlugLen = 48

// Slugify derives a file-safe identifier from a human-readable name:
// lowercase, runs of non-alphanumerics collapsed to single hyphens, trimmed,
// and capped in length. An empty or all-symbol input yields "item".
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "item"
	}
	return slug
}
