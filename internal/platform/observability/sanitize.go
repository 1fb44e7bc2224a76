package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLength  = 180
	maxUserIDLength = 64
)

// sanitizeString drops control characters and truncates to limit runes to keep log lines safe.
func sanitizeString(value string, limit int) string {
	cleaned := make([]rune, 0, min(len(value), limit))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteLength)
}

// SanitizeUserID limits staff identifiers written to logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, maxUserIDLength)
}

// MaskEmail keeps the first letter of the mailbox and the domain, e.g. "m***@example.com".
func MaskEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || domain == "" {
		return "***"
	}
	first := []rune(local)[0]
	return sanitizeString(string(first)+"***@"+domain, maxUserIDLength)
}

// MaskPhone keeps the last four digits of a customer phone number.
func MaskPhone(phone string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return "***"
	}
	return "***" + string(digits[len(digits)-4:])
}
