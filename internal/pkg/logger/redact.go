package logger

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// redactPIIValue masks recipient addresses. Keys naming an address
// ("to_email", "recipient") are masked whole; any other value only has
// embedded addresses masked, so ids and URLs stay readable.
func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if (strings.HasSuffix(key, "email") || strings.Contains(key, "recipient")) && !strings.HasSuffix(key, "_id") {
		if val == "" {
			return val
		}
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
