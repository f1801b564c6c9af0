package logger

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
)

var sensitiveHeaders = map[string]bool{
	"cookie":        true,
	"authorization": true,
	"set-cookie":    true,
}

func maskedValue(v string) string {
	if v == "" {
		return ""
	}
	// keep first and last rune
	if utf8.RuneCountInString(v) <= 2 {
		return "<redacted>"
	}
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	return string(first) + "*****" + string(last)
}

// SafeHeaders renders request headers with credentials masked.
func SafeHeaders(c *fiber.Ctx) string {
	parts := make([]string, 0)
	c.Request().Header.VisitAll(func(k, v []byte) {
		key := string(k)
		val := string(v)
		if sensitiveHeaders[strings.ToLower(key)] {
			val = maskedValue(val)
		}
		parts = append(parts, key+"="+val)
	})
	return strings.Join(parts, "; ")
}

// LogRequest logs a concise, safe summary of an incoming request.
func LogRequest(c *fiber.Ctx) {
	if Log == nil {
		return
	}
	Debug("incoming_request",
		"method", c.Method(),
		"path", c.Path(),
		"remote", c.IP(),
		"headers", SafeHeaders(c),
	)
}
