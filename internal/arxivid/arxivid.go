// Package arxivid normalizes arXiv paper identifiers. The canonical form is
// the version-stripped ID (e.g. "2310.01234", "hep-th/9901001"), which is the
// unique paper key within and across pipeline runs.
package arxivid

import (
	"regexp"
	"strings"
)

// arXiv ID formats:
// - New format: YYMM.NNNNN (e.g. 2301.00001, 2301.12345v2)
// - Old format: archive/YYMMNNN (e.g. hep-th/9901001, math.CO/0001001)
var (
	versionSuffix = regexp.MustCompile(`v\d+$`)

	newFormat = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)
	oldFormat = regexp.MustCompile(`^[a-z-]+(\.[A-Za-z]{2})?/\d{7}(v\d+)?$`)

	// absURL extracts an ID from arxiv.org abs/pdf/e-print URLs.
	absURL = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf|e-print)/(\d{4}\.\d{4,5}(?:v\d+)?|[a-z-]+(?:\.[A-Za-z]{2})?/\d{7}(?:v\d+)?)`)
)

// StripVersion returns the canonical ID with any trailing version suffix
// removed. Idempotent: stripping an already-canonical ID is a no-op.
func StripVersion(id string) string {
	return versionSuffix.ReplaceAllString(strings.TrimSpace(id), "")
}

// IsValid reports whether id is a well-formed arXiv identifier, with or
// without a version suffix.
func IsValid(id string) bool {
	id = strings.TrimSpace(id)
	return newFormat.MatchString(id) || oldFormat.MatchString(id)
}

// FromURL extracts a canonical ID from an arXiv URL
// (e.g. "http://arxiv.org/abs/2301.00001v1" -> "2301.00001").
// Returns "" when the URL carries no recognizable ID.
func FromURL(url string) string {
	m := absURL.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return StripVersion(m[1])
}

// Normalize trims an identifier, extracts it from a URL form if needed, and
// strips the version suffix. Returns "" for input that is not an arXiv ID.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if id := FromURL(raw); id != "" {
		return id
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "arXiv:"), "arxiv:")
	if !IsValid(raw) {
		return ""
	}
	return StripVersion(raw)
}
