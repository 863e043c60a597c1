package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxFileNameBytes bounds generated file name stems so that an extension and a
// temp suffix still fit within common 255-byte filesystem limits.
const MaxFileNameBytes = 200

var (
	unsafeFileChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// SanitizeFileName collapses whitespace runs to single spaces and replaces
// characters that are unsafe on common filesystems with underscores. The
// result is NFC-normalized so the same title always maps to the same bytes.
func SanitizeFileName(name string) string {
	name = norm.NFC.String(strings.ToValidUTF8(name, "_"))
	name = whitespaceRun.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	return unsafeFileChars.ReplaceAllString(name, "_")
}

// Slug builds a deterministic file name stem from a display name and a key.
// The key is always kept intact; only the name part is shortened when the
// combined stem would exceed MaxFileNameBytes.
func Slug(name, key string) string {
	key = SanitizeFileName(key)
	name = SanitizeFileName(name)
	if key == "" {
		return TruncateBytes(name, MaxFileNameBytes)
	}
	if name == "" {
		return TruncateBytes(key, MaxFileNameBytes)
	}
	budget := MaxFileNameBytes - len(key) - 1
	if budget <= 0 {
		return TruncateBytes(key, MaxFileNameBytes)
	}
	name = strings.TrimSpace(TruncateBytes(name, budget))
	if name == "" {
		return key
	}
	return name + " " + key
}

// TruncateBytes shortens s to at most limit bytes without splitting a rune.
func TruncateBytes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// NormalizeText coerces extracted text to valid, NFC-normalized UTF-8 and
// drops NUL bytes that some converters emit between glyph runs.
func NormalizeText(text string) string {
	text = strings.ToValidUTF8(text, "�")
	text = strings.ReplaceAll(text, "\x00", "")
	return norm.NFC.String(text)
}
