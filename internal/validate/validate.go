package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text field length limits, counted in characters. The player reads them
// from /api/limits so both sides agree.
const (
	MaxDanmakuLength     = 100
	MaxDisplayNameLength = 40
	MaxVideoIDLength     = 128
)

func checkLen(value string, max int, field string) string {
	if utf8.RuneCountInString(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

// Danmaku checks a comment body. Bodies are a single line: whitespace-only
// text and control characters are rejected.
func Danmaku(s string) string {
	if strings.TrimSpace(s) == "" {
		return "danmaku content is required"
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "danmaku content must not contain control characters"
	}
	return checkLen(s, MaxDanmakuLength, "danmaku content")
}

func DisplayName(s string) string { return checkLen(s, MaxDisplayNameLength, "display name") }

// VideoID accepts the ids the player hands out: letters, digits, '-' and '_'.
func VideoID(s string) string {
	if s == "" {
		return "video id is required"
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return "video id contains invalid characters"
		}
	}
	return checkLen(s, MaxVideoIDLength, "video id")
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"danmaku":     MaxDanmakuLength,
		"displayName": MaxDisplayNameLength,
		"videoId":     MaxVideoIDLength,
	}
}
